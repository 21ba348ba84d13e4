package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/composition"
	"github.com/banshee-data/vitals.report/internal/diag"
	"github.com/banshee-data/vitals.report/internal/fsutil"
	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/session"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestSweepRequestPlan(t *testing.T) {
	tests := []struct {
		name    string
		req     sweepRequest
		want    int
		wantErr bool
	}{
		{"default is fixed", sweepRequest{}, 5, false},
		{"fixed", sweepRequest{Mode: "fixed"}, 5, false},
		{"log", sweepRequest{Mode: "log", Start: 1000, End: 100000, Points: 7}, 7, false},
		{"log bad range", sweepRequest{Mode: "log", Start: 5000, End: 1000, Points: 3}, 0, true},
		{"unknown", sweepRequest{Mode: "chirp"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := tt.req.plan()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, plan, tt.want)
		})
	}
}

func TestOutputFilename(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)

	got, err := outputFilename("", "", now)
	require.NoError(t, err)
	assert.Equal(t, "bia-sweep-20250301-083000.csv", got)

	got, err = outputFilename("", "after run / left arm", now)
	require.NoError(t, err)
	assert.Equal(t, "bia-sweep-after_run_left_arm.csv", got)

	got, err = outputFilename("out/sweep.csv", "ignored", now)
	require.NoError(t, err)
	assert.Equal(t, "out/sweep.csv", got)

	_, err = outputFilename("/etc/sweep.csv", "", now)
	assert.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	results := []session.Measurement{
		{Report: bia.SweepReport{Points: []bia.ImpedancePoint{bia.PointFromRectangular(10000, 584.56, 51.75)}}},
		{Report: bia.SweepReport{Points: []bia.ImpedancePoint{bia.PointFromRectangular(50000, 514.49, 63.33)}}},
	}
	require.NoError(t, exportCSV(fsys, "out/sweep.csv", results))

	data, err := fsys.ReadFile("out/sweep.csv")
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"sweep", "frequency_hz", "resistance", "reactance", "magnitude", "phase_deg"}, rows[0])
	assert.Equal(t, []string{"1", "10000", "584.56", "51.75"}, rows[1][:4])
	assert.Equal(t, []string{"2", "50000", "514.49", "63.33"}, rows[2][:4])
	assert.Equal(t, "518.37", rows[2][4])
}

func TestRemoteSweep(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"id":               "abc",
		"body_fat_pct":     12.5,
		"phase_angle":      7.1,
		"valid":            true,
		"diagnostic":       "ok",
		"requested_points": 5,
		"points":           []bia.ImpedancePoint{bia.PointFromRectangular(50000, 514.49, 63.33)},
	})
	require.NoError(t, err)

	client := httputil.NewMockHTTPClient().AddResponse(200, string(body))
	m, err := remoteSweep(client, "http://vitals.local:8080/", sweepRequest{Mode: "fixed", WeightKg: 16})
	require.NoError(t, err)

	require.Equal(t, 1, client.RequestCount())
	assert.Equal(t, "http://vitals.local:8080/api/bia/sweep?mass=kg", client.Requests[0].URL.String())
	assert.JSONEq(t, `{"mode":"fixed","weight_kg":16}`, client.Bodies[0])

	assert.Equal(t, "abc", m.ID)
	assert.Equal(t, 5, m.Report.Requested)
	assert.Len(t, m.Report.Points, 1)
	assert.True(t, m.Composition.Valid)
	assert.Equal(t, 7.1, m.Composition.PhaseAngle)
}

func TestRemoteSweep_Errors(t *testing.T) {
	client := httputil.NewMockHTTPClient().
		AddResponse(409, `{"error":"impedance sweep already in progress"}`).
		AddErrorResponse(errors.New("connection refused"))

	_, err := remoteSweep(client, "http://vitals.local", sweepRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	_, err = remoteSweep(client, "http://vitals.local", sweepRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPrintReport(t *testing.T) {
	valid := session.Measurement{Composition: composition.Composition{
		BodyFatPct: 12.5, PhaseAngle: 7.1, MeasurementQuality: 90, Valid: true, Diagnostic: diag.OK,
	}}

	var out bytes.Buffer
	printReport(&out, valid, []float64{7.0, 7.2})
	assert.Contains(t, out.String(), "Body fat:     12.5%")
	assert.Contains(t, out.String(), "Phase angle over 2 sweeps: 7.10 +/- 0.14 deg")

	out.Reset()
	printReport(&out, valid, []float64{7.1})
	assert.NotContains(t, out.String(), "sweeps")

	out.Reset()
	printReport(&out, session.Measurement{Composition: composition.Composition{Diagnostic: diag.SignalQuality}}, nil)
	assert.Equal(t, "Measurement invalid: signal_quality\n", out.String())
}

func TestLocalSession_Simulated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	profile := composition.Profile{Age: 16, HeightCm: 100, WeightKg: 16, IsMale: true, ActivityLevel: 3}
	sess, cleanup, err := localSession(ctx, true, "", profile)
	require.NoError(t, err)
	defer cleanup()

	m, err := sess.Measure(ctx, bia.FixedFrequencies(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Report.Requested)
	// the 1 kHz point falls under the minimum phase angle
	assert.Len(t, m.Report.Points, 4)
	assert.True(t, m.Composition.Valid, "diagnostic %s", m.Composition.Diagnostic)
	assert.True(t, strings.Contains(composition.Summary(m.Composition), "Phase angle"))
}
