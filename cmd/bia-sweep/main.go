// Command bia-sweep runs one or more impedance sweeps, writes the accepted
// points to CSV, plots the spectrum and prints the body composition.
//
// By default it drives a bridge directly (or a simulated one with
// -simulate). With -remote it asks a running vitals daemon to sweep.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/api"
	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/composition"
	"github.com/banshee-data/vitals.report/internal/fsutil"
	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/security"
	"github.com/banshee-data/vitals.report/internal/serialmux"
	"github.com/banshee-data/vitals.report/internal/session"
)

// sweepRequest mirrors the body accepted by POST /api/bia/sweep.
type sweepRequest struct {
	Mode     string  `json:"mode,omitempty"`
	Start    float64 `json:"start,omitempty"`
	End      float64 `json:"end,omitempty"`
	Points   int     `json:"points,omitempty"`
	WeightKg float64 `json:"weight_kg,omitempty"`
}

func (r sweepRequest) plan() ([]float64, error) {
	switch r.Mode {
	case "", "fixed":
		return bia.FixedFrequencies(), nil
	case "log":
		return bia.LogSpacedFrequencies(r.Start, r.End, r.Points)
	}
	return nil, fmt.Errorf("invalid mode %q (must be fixed or log)", r.Mode)
}

func main() {
	remote := flag.String("remote", "", "Base URL of a running vitals daemon (e.g. http://localhost:8080)")
	port := flag.String("port", "/dev/ttyUSB0", "Serial port of the sensor bridge")
	simulate := flag.Bool("simulate", false, "Sweep a simulated bridge")

	mode := flag.String("mode", "fixed", "Sweep mode: 'fixed' (1k-100k, five points) or 'log'")
	start := flag.Float64("start", 1000, "Start frequency in Hz for log sweeps")
	end := flag.Float64("end", 100000, "End frequency in Hz for log sweeps")
	points := flag.Int("points", 10, "Number of frequencies for log sweeps")
	repeat := flag.Int("repeat", 1, "Number of sweeps to run")

	age := flag.Int("age", 30, "Age in years")
	height := flag.Float64("height", 170, "Height in cm")
	weight := flag.Float64("weight", 70, "Weight in kg")
	male := flag.Bool("male", true, "Use male reference equations")
	activity := flag.Int("activity", 3, "Activity level 1-5")

	label := flag.String("label", "", "Label used in the default output filename (defaults to a timestamp)")
	output := flag.String("output", "", "Output CSV filename (defaults to bia-sweep-<label>.csv)")
	plotDir := flag.String("plot-dir", "", "Directory for spectrum plots (skipped when empty)")
	flag.Parse()

	if *repeat < 1 {
		log.Fatalf("-repeat must be at least 1")
	}
	req := sweepRequest{Mode: *mode, WeightKg: *weight}
	if *mode == "log" {
		req.Start, req.End, req.Points = *start, *end, *points
	}
	plan, err := req.plan()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var sweep func(context.Context) (session.Measurement, error)
	if *remote != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: 2 * time.Minute})
		sweep = func(context.Context) (session.Measurement, error) {
			return remoteSweep(client, *remote, req)
		}
	} else {
		profile := composition.Profile{Age: *age, HeightCm: *height, WeightKg: *weight, IsMale: *male, ActivityLevel: *activity}
		sess, cleanup, err := localSession(ctx, *simulate, *port, profile)
		if err != nil {
			log.Fatalf("failed to start local session: %v", err)
		}
		defer cleanup()
		sweep = func(ctx context.Context) (session.Measurement, error) {
			return sess.Measure(ctx, plan, 0)
		}
	}

	filename, err := outputFilename(*output, *label, time.Now())
	if err != nil {
		log.Fatal(err)
	}
	if *plotDir != "" {
		if err := security.ValidateExportPath(*plotDir); err != nil {
			log.Fatal(err)
		}
	}
	var (
		results []session.Measurement
		phases  []float64
	)
	for i := range *repeat {
		m, err := sweep(ctx)
		if err != nil {
			log.Fatalf("sweep %d failed: %v", i+1, err)
		}
		log.Printf("sweep %d/%d: %d of %d points accepted, diagnostic %s",
			i+1, *repeat, len(m.Report.Points), m.Report.Requested, m.Composition.Diagnostic)
		if m.Composition.Valid {
			phases = append(phases, m.Composition.PhaseAngle)
		}
		results = append(results, m)
	}
	last := results[len(results)-1]

	if err := exportCSV(fsutil.OSFileSystem{}, filename, results); err != nil {
		log.Fatalf("failed to write %s: %v", filename, err)
	}
	log.Printf("wrote %s", filename)

	if *plotDir != "" && len(last.Report.Points) > 0 {
		files, err := bia.PlotSpectrum(last.Report.Points, *plotDir)
		if err != nil {
			log.Printf("failed to plot spectrum: %v", err)
		}
		for _, path := range files {
			log.Printf("wrote %s", path)
		}
	}

	printReport(os.Stdout, last, phases)
}

// outputFilename returns output, or a name built from label, after
// checking it stays under the working or temp directory.
func outputFilename(output, label string, now time.Time) (string, error) {
	if output == "" {
		if label == "" {
			label = now.Format("20060102-150405")
		}
		output = "bia-sweep-" + security.SanitizeFilename(label) + ".csv"
	}
	if err := security.ValidateExportPath(output); err != nil {
		return "", err
	}
	return output, nil
}

// localSession opens a bridge, starts its monitor and a session reading
// from it. The returned func stops both.
func localSession(ctx context.Context, simulate bool, port string, profile composition.Profile) (*session.Session, func(), error) {
	var mux serialmux.SerialMuxInterface
	if simulate {
		mux = serialmux.NewSimulatedSerialMux()
	} else {
		m, err := serialmux.NewRealSerialMux(port, serialmux.PortOptions{})
		if err != nil {
			return nil, nil, err
		}
		mux = m
	}
	if err := mux.Initialize(); err != nil {
		mux.Close()
		return nil, nil, err
	}

	sess := session.New(session.Config{}, bia.NewSerialDriver(mux), nil, nil)
	if err := sess.SetProfile(profile); err != nil {
		mux.Close()
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go mux.Monitor(ctx)
	go sess.Run(ctx, mux)
	return sess, func() {
		cancel()
		mux.Close()
	}, nil
}

// remoteSweep asks a daemon at base to run a sweep.
func remoteSweep(c httputil.HTTPClient, base string, req sweepRequest) (session.Measurement, error) {
	var view api.CompositionView
	url := strings.TrimRight(base, "/") + "/api/bia/sweep?mass=kg"
	if err := httputil.PostJSON(c, url, req, &view); err != nil {
		return session.Measurement{}, err
	}
	return session.Measurement{
		ID: view.ID,
		Report: bia.SweepReport{
			Requested: view.RequestedPoints,
			Points:    view.Points,
			Rejected:  view.Rejected,
		},
		Composition: view.Composition,
	}, nil
}

// exportCSV writes the accepted points of every sweep, numbered from 1.
func exportCSV(fsys fsutil.FileSystem, name string, results []session.Measurement) error {
	if dir := filepath.Dir(name); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fsys.Create(name)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"sweep", "frequency_hz", "resistance", "reactance", "magnitude", "phase_deg"}); err != nil {
		f.Close()
		return err
	}
	for i, m := range results {
		for _, p := range m.Report.Points {
			rec := []string{
				strconv.Itoa(i + 1),
				strconv.FormatFloat(p.FrequencyHz, 'f', 0, 64),
				strconv.FormatFloat(p.Resistance, 'f', 2, 64),
				strconv.FormatFloat(p.Reactance, 'f', 2, 64),
				strconv.FormatFloat(p.Magnitude, 'f', 2, 64),
				strconv.FormatFloat(p.PhaseDeg, 'f', 3, 64),
			}
			if err := w.Write(rec); err != nil {
				f.Close()
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printReport writes the last composition and, over repeated sweeps, the
// spread of the phase angle.
func printReport(out io.Writer, m session.Measurement, phases []float64) {
	if !m.Composition.Valid {
		fmt.Fprintf(out, "Measurement invalid: %s\n", m.Composition.Diagnostic)
		return
	}
	fmt.Fprint(out, composition.Summary(m.Composition))
	if len(phases) > 1 {
		mean, std := stat.MeanStdDev(phases, nil)
		fmt.Fprintf(out, "Phase angle over %d sweeps: %.2f +/- %.2f deg\n", len(phases), mean, std)
	}
}
