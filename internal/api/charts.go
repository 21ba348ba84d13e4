package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/units"
)

type renderer interface {
	Render(w io.Writer) error
}

func writeHTML(w http.ResponseWriter, chart renderer) {
	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleBPChart renders the stored estimate history as a line chart.
// Query params:
//   - limit (optional; store default)
//   - units (optional; mmHg or kPa)
//   - tz (optional; IANA zone for the time axis)
func (s *Server) handleBPChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireHistory(w) {
		return
	}
	u, ok := s.pressureUnits(w, r)
	if !ok {
		return
	}
	n, ok := limit(w, r)
	if !ok {
		return
	}
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		tz = s.opts.Timezone
	}
	if !units.IsTimezoneValid(tz) {
		httputil.BadRequest(w, fmt.Sprintf("invalid timezone %q", tz))
		return
	}

	records, err := s.history.Estimates(n)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve estimates: "+err.Error())
		return
	}
	if len(records) == 0 {
		httputil.NotFound(w, "no estimates recorded")
		return
	}
	// history is newest first; plot oldest to newest
	slices.Reverse(records)

	x := make([]string, len(records))
	sys := make([]opts.LineData, len(records))
	dia := make([]opts.LineData, len(records))
	mapSeries := make([]opts.LineData, len(records))
	for i, rec := range records {
		t, err := units.ConvertTime(rec.Time, tz)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		x[i] = t.Format("2006-01-02 15:04:05")
		sys[i] = opts.LineData{Value: round1(units.ConvertPressure(rec.Systolic, u))}
		dia[i] = opts.LineData{Value: round1(units.ConvertPressure(rec.Diastolic, u))}
		mapSeries[i] = opts.LineData{Value: round1(units.ConvertPressure(rec.MAP, u))}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Blood Pressure", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Blood Pressure Trend", Subtitle: fmt.Sprintf("%d estimates, %s, %s", len(records), u, tz)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: u, Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	smooth := charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})
	line.SetXAxis(x).
		AddSeries("systolic", sys, smooth).
		AddSeries("diastolic", dia, smooth).
		AddSeries("MAP", mapSeries, smooth)

	writeHTML(w, line)
}

// handleSpectrumChart plots the impedance spectrum of one sweep: a Cole
// plot of reactance against resistance and magnitude against frequency.
// Without an id the last sweep of this session is used.
func (s *Server) handleSpectrumChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var (
		id     string
		points []bia.ImpedancePoint
	)
	if id = r.URL.Query().Get("id"); id != "" {
		if !s.requireHistory(w) {
			return
		}
		rec, err := s.history.Composition(id)
		if errors.Is(err, db.ErrNotFound) {
			httputil.NotFound(w, "composition not found")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		points = rec.Points
	} else {
		m, ok := s.sess.LastMeasurement()
		if !ok {
			httputil.NotFound(w, "no sweep has been run")
			return
		}
		id, points = m.ID, m.Report.Points
	}
	if len(points) == 0 {
		httputil.NotFound(w, "sweep has no accepted points")
		return
	}

	cole := make([]opts.ScatterData, len(points))
	magnitude := make([]opts.ScatterData, len(points))
	for i, p := range points {
		cole[i] = opts.ScatterData{Value: []any{round1(p.Resistance), round1(p.Reactance)}}
		magnitude[i] = opts.ScatterData{Value: []any{p.FrequencyHz, round1(p.Magnitude)}}
	}

	colePlot := charts.NewScatter()
	colePlot.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "720px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cole Plot", Subtitle: "sweep " + id}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "R (ohm)", NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Xc (ohm)", Scale: opts.Bool(true)}),
	)
	colePlot.AddSeries("impedance", cole, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	magPlot := charts.NewScatter()
	magPlot.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "720px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Impedance Magnitude"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "f (Hz)", Type: "log", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "|Z| (ohm)", Scale: opts.Bool(true)}),
	)
	magPlot.AddSeries("|Z|", magnitude, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	page := components.NewPage()
	page.SetPageTitle("Impedance Spectrum")
	page.AddCharts(colePlot, magPlot)
	writeHTML(w, page)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
