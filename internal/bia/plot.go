package bia

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotSpectrum writes a Nyquist plot (resistance against reactance) and a
// Bode magnitude plot of points into outputDir and returns the file paths.
func PlotSpectrum(points []ImpedancePoint, outputDir string) ([]string, error) {
	if len(points) == 0 {
		return nil, errors.New("no impedance points to plot")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	sorted := append([]ImpedancePoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FrequencyHz < sorted[j].FrequencyHz })

	nyquist := make(plotter.XYs, len(sorted))
	bode := make(plotter.XYs, len(sorted))
	for i, p := range sorted {
		nyquist[i] = plotter.XY{X: p.Resistance, Y: p.Reactance}
		bode[i] = plotter.XY{X: p.FrequencyHz, Y: p.Magnitude}
	}

	pN := plot.New()
	pN.Title.Text = "Nyquist"
	pN.X.Label.Text = "Resistance (ohm)"
	pN.Y.Label.Text = "Reactance (ohm)"
	if err := addLinePoints(pN, nyquist); err != nil {
		return nil, err
	}

	pB := plot.New()
	pB.Title.Text = "Impedance magnitude"
	pB.X.Label.Text = "Frequency (Hz)"
	pB.Y.Label.Text = "|Z| (ohm)"
	pB.X.Scale = plot.LogScale{}
	pB.X.Tick.Marker = plot.LogTicks{Prec: -1}
	if err := addLinePoints(pB, bode); err != nil {
		return nil, err
	}

	nyquistFile := filepath.Join(outputDir, "nyquist.png")
	if err := pN.Save(6*vg.Inch, 5*vg.Inch, nyquistFile); err != nil {
		return nil, fmt.Errorf("failed to save nyquist plot: %w", err)
	}
	bodeFile := filepath.Join(outputDir, "bode.png")
	if err := pB.Save(8*vg.Inch, 4*vg.Inch, bodeFile); err != nil {
		return nil, fmt.Errorf("failed to save bode plot: %w", err)
	}
	return []string{nyquistFile, bodeFile}, nil
}

func addLinePoints(p *plot.Plot, xys plotter.XYs) error {
	line, scatter, err := plotter.NewLinePoints(xys)
	if err != nil {
		return fmt.Errorf("failed to build plot series: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line, scatter, plotter.NewGrid())
	return nil
}
