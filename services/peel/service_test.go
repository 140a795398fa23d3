// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/config"
	"github.com/AleutianAI/peelcal/services/peel/dag"
	"github.com/AleutianAI/peelcal/services/peel/ephem"
	"github.com/AleutianAI/peelcal/services/peel/gain"
	"github.com/AleutianAI/peelcal/services/peel/peeling"
	"github.com/AleutianAI/peelcal/services/peel/store"
	"github.com/AleutianAI/peelcal/services/peel/telemetry"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Observer = ephem.OVRO(time.Date(2015, 4, 9, 14, 34, 51, 0, time.UTC))
	cfg.Flagging.MinWavelengths = 1
	cfg.Peeling.Rings = 2
	cfg.Peeling.Joint = false
	cfg.Peeling.StageTimeout = time.Minute
	cfg.Imaging.Size = 64
	cfg.Imaging.Cell = 1
	cfg.Imaging.OutputDir = t.TempDir()
	cfg.Store = store.InMemoryConfig()
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func testArray(t *testing.T) *array.Array {
	t.Helper()
	positions := make([]array.Position, 6)
	for i := range positions {
		positions[i] = array.Position{20 * float64(i), 7 * float64(i%3), 0}
	}
	arr, err := array.New(positions, nil)
	require.NoError(t, err)
	return arr
}

func circumpolar(t *testing.T, id, ra, dec string, flux float64) catalog.Source {
	t.Helper()
	s, err := catalog.NewSource(id, ra, dec, flux, 74e6, -0.7)
	require.NoError(t, err)
	return s
}

func testCandidates(t *testing.T) []catalog.Source {
	return []catalog.Source{
		circumpolar(t, "0", "02:00:00", "+88:00:00", 300),
		circumpolar(t, "1", "10:00:00", "+80:00:00", 150),
		circumpolar(t, "2", "18:00:00", "+75:00:00", 60),
	}
}

func openStore(t *testing.T) *store.RunStore {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewRunStore(db)
}

func simulated(t *testing.T, cfg config.Config, arr *array.Array, sky []catalog.Source) *visibility.Tensor {
	t.Helper()
	gen := PointSourceGenerator(arr, cfg.Observer, cfg.Frequency, 1)
	gains := RandomGains(1, arr.Stands(), GainJitter{Amplitude: 0.1, Phase: 0.3}, 7)
	vis, err := Simulate(context.Background(), gen, arr, sky, gains)
	require.NoError(t, err)
	return vis
}

func TestRunner_RunPersistsEverything(t *testing.T) {
	cfg := testConfig(t)
	arr := testArray(t)
	candidates := testCandidates(t)
	runs := openStore(t)
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	runner := NewRunner(cfg, WithStore(runs), WithMetrics(metrics))
	out, err := runner.Run(context.Background(), RunRequest{
		Input:      "simulated",
		Vis:        simulated(t, cfg, arr, candidates),
		Array:      arr,
		Candidates: candidates,
	})
	require.NoError(t, err)

	sum := out.Summary
	assert.Equal(t, store.StatusSucceeded, sum.Status)
	assert.Equal(t, 2, sum.Peeled)
	assert.Equal(t, 2, sum.Considered)
	assert.Empty(t, sum.Skipped)
	assert.Equal(t, "simulated", sum.Input)
	assert.Contains(t, sum.StageSeconds, "combine/image")
	require.NotNil(t, sum.Average)
	assert.Equal(t, arr.Stands(), sum.Average.Stands)

	require.Len(t, out.Rings, 2)
	assert.Equal(t, []string{"0"}, out.Rings[0].Sources)
	assert.True(t, out.Rings[0].Peeled)
	assert.NotNil(t, out.Rings[0].PeelJones)
	assert.False(t, out.Rings[1].Peeled)
	assert.Nil(t, out.Rings[1].PeelJones)
	require.NotNil(t, out.Result)

	for _, kind := range []string{"fits", "png"} {
		path := sum.Outputs[kind]
		require.NotEmpty(t, path, kind)
		assert.Equal(t, cfg.Imaging.OutputDir, filepath.Dir(path))
		info, err := os.Stat(path)
		require.NoError(t, err, kind)
		assert.Positive(t, info.Size(), kind)
	}

	stored, err := runs.GetRun(context.Background(), sum.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, stored.Status)
	rings, err := runs.Rings(context.Background(), sum.ID)
	require.NoError(t, err)
	assert.Len(t, rings, 2)
}

func TestRunner_RunWithoutStoreOrImages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Imaging.OutputDir = ""
	arr := testArray(t)
	candidates := testCandidates(t)

	out, err := NewRunner(cfg).Run(context.Background(), RunRequest{
		Vis:        simulated(t, cfg, arr, candidates),
		Array:      arr,
		Candidates: candidates,
	})
	require.NoError(t, err)
	assert.Empty(t, out.Summary.Outputs)
}

type recordingSink struct {
	name  string
	err   error
	calls int
	rings int
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, sum *store.Summary, rings []store.RingRecord) error {
	s.calls++
	s.rings = len(rings)
	if s.err != nil {
		return s.err
	}
	if sum.Outputs == nil {
		sum.Outputs = map[string]string{}
	}
	sum.Outputs["published_"+s.name] = "yes"
	return nil
}

func TestRunner_PublishesToSinks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Imaging.OutputDir = ""
	arr := testArray(t)
	candidates := testCandidates(t)
	runs := openStore(t)

	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("bucket gone")}
	out, err := NewRunner(cfg, WithStore(runs), WithSinks(bad, good)).Run(context.Background(), RunRequest{
		Vis:        simulated(t, cfg, arr, candidates),
		Array:      arr,
		Candidates: candidates,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, 2, good.rings)
	assert.Equal(t, "yes", out.Summary.Outputs["published_good"])
	assert.NotContains(t, out.Summary.Outputs, "published_bad")

	stored, err := runs.GetRun(context.Background(), out.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, "yes", stored.Outputs["published_good"])
}

type failingSolver struct{}

func (failingSolver) Solve(context.Context, gain.Request) (gain.Response, error) {
	return gain.Response{}, errors.New("solver exploded")
}

func TestRunner_FailedRunIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	arr := testArray(t)
	candidates := testCandidates(t)
	runs := openStore(t)

	runner := NewRunner(cfg, WithStore(runs), WithSolver(failingSolver{}))
	out, err := runner.Run(context.Background(), RunRequest{
		Vis:        simulated(t, cfg, arr, candidates),
		Array:      arr,
		Candidates: candidates,
	})
	require.Error(t, err)
	var nodeErr *dag.NodeError
	assert.True(t, errors.As(err, &nodeErr))

	require.NotNil(t, out)
	assert.Equal(t, store.StatusFailed, out.Summary.Status)
	assert.Contains(t, out.Summary.Error, "solver exploded")

	stored, err := runs.GetRun(context.Background(), out.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, stored.Status)
	rings, err := runs.Rings(context.Background(), out.Summary.ID)
	require.NoError(t, err)
	assert.Empty(t, rings)
}

// countRuns sums peel_runs_total for one status.
func countRuns(t *testing.T, reader *sdkmetric.ManualReader, status store.Status) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var n int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "peel_runs_total" {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range data.DataPoints {
				if v, ok := dp.Attributes.Value("status"); ok && v.AsString() == string(status) {
					n += dp.Value
				}
			}
		}
	}
	return n
}

func recordingMetrics(t *testing.T) (*telemetry.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	metrics, err := telemetry.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return metrics, reader
}

func TestRunner_ImageFailureIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	cfg.Imaging.OutputDir = filepath.Join(blocker, "images")
	cfg.Imaging.FITS = true
	arr := testArray(t)
	candidates := testCandidates(t)
	runs := openStore(t)
	metrics, reader := recordingMetrics(t)

	out, err := NewRunner(cfg, WithStore(runs), WithMetrics(metrics)).Run(context.Background(), RunRequest{
		Vis:        simulated(t, cfg, arr, candidates),
		Array:      arr,
		Candidates: candidates,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write images")

	require.NotNil(t, out)
	require.NotNil(t, out.Result)
	assert.Equal(t, store.StatusFailed, out.Summary.Status)
	assert.Contains(t, out.Summary.Error, "create output dir")

	stored, err := runs.GetRun(context.Background(), out.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, stored.Status)
	assert.Equal(t, int64(1), countRuns(t, reader, store.StatusFailed))
	assert.Zero(t, countRuns(t, reader, store.StatusSucceeded))
}

// cancelingSink cancels the run context, so the save after publishing fails.
type cancelingSink struct{ cancel context.CancelFunc }

func (s cancelingSink) Name() string { return "cancel" }

func (s cancelingSink) Publish(context.Context, *store.Summary, []store.RingRecord) error {
	s.cancel()
	return nil
}

func TestRunner_SaveFailureIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Imaging.OutputDir = ""
	arr := testArray(t)
	candidates := testCandidates(t)
	runs := openStore(t)
	metrics, reader := recordingMetrics(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := NewRunner(cfg, WithStore(runs), WithMetrics(metrics), WithSinks(cancelingSink{cancel: cancel}))
	out, err := runner.Run(ctx, RunRequest{
		Vis:        simulated(t, cfg, arr, candidates),
		Array:      arr,
		Candidates: candidates,
	})
	require.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, out)
	assert.Equal(t, store.StatusFailed, out.Summary.Status)

	stored, err := runs.GetRun(context.Background(), out.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, stored.Status)
	rings, err := runs.Rings(context.Background(), out.Summary.ID)
	require.NoError(t, err)
	assert.Empty(t, rings)
	assert.Equal(t, int64(1), countRuns(t, reader, store.StatusFailed))
}

func TestRunner_PlanningErrors(t *testing.T) {
	cfg := testConfig(t)
	arr := testArray(t)
	runs := openStore(t)
	runner := NewRunner(cfg, WithStore(runs))
	vis := visibility.NewTensor(1, arr.Stands())

	_, err := runner.Run(context.Background(), RunRequest{Vis: vis, Array: arr})
	assert.ErrorIs(t, err, peeling.ErrInsufficientSources)

	_, err = runner.Run(context.Background(), RunRequest{Array: arr, Candidates: testCandidates(t)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	listed, err := runs.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestSimulate_RecoversGainsWithStEFCal(t *testing.T) {
	cfg := testConfig(t)
	arr := testArray(t)
	sky := testCandidates(t)
	gen := PointSourceGenerator(arr, cfg.Observer, cfg.Frequency, 1)

	clean, err := Simulate(context.Background(), gen, arr, sky, nil)
	require.NoError(t, err)
	model, err := gen.Generate(context.Background(), sky)
	require.NoError(t, err)
	assert.True(t, clean.ApproxEqual(model.Model, 1e-9))

	gains := RandomGains(1, arr.Stands(), GainJitter{Amplitude: 0.1, Phase: 0.3}, 11)
	again := RandomGains(1, arr.Stands(), GainJitter{Amplitude: 0.1, Phase: 0.3}, 11)
	assert.True(t, gains.ApproxEqual(again, 0))

	corrupted, err := Simulate(context.Background(), gen, arr, sky, gains)
	require.NoError(t, err)
	assert.False(t, corrupted.ApproxEqual(model.Model, 1e-6))

	// Re-applying the gains undoes the corruption.
	restored, err := gain.ApplyGains(corrupted, gains, arr)
	require.NoError(t, err)
	assert.True(t, restored.ApproxEqual(model.Model, 1e-6*model.Model.MaxAbs()))
}

func TestLoadArray(t *testing.T) {
	dir := t.TempDir()
	layout := filepath.Join(dir, "layout.txt")
	require.NoError(t, os.WriteFile(layout, []byte("# x y z\n0 0 0\n10 0 0\n0 10 0\n"), 0600))

	arr, err := LoadArray(config.ArrayConfig{Layout: layout, BadStands: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, 3, arr.Stands())
	assert.True(t, arr.IsBad(1))

	_, err = LoadArray(config.ArrayConfig{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = LoadArray(config.ArrayConfig{Layout: layout, BadStands: []int{9}})
	assert.ErrorIs(t, err, array.ErrStandOutOfRange)
}

func catalogLine(ra, dec, flux string) string {
	return fmt.Sprintf("%-12s%-12s     %7s  0.10", ra, dec, flux)
}

func TestLoadCandidates(t *testing.T) {
	lines := []string{
		"header",
		catalogLine("01 00 00.00", "+80 00 00.0", "10.0"),
		catalogLine("02 00 00.00", "+70 00 00.0", "50.0"),
		catalogLine("03 00 00.00", "+60 00 00.0", "30.0"),
	}
	path := filepath.Join(t.TempDir(), "cat.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))

	cfg := config.CatalogConfig{
		Path:      path,
		Options:   catalog.Options{HeaderLines: 1, MinFlux: 1, Frequency: 74e6, SpectralIndex: -0.7},
		Selection: catalog.Selection{SkipLeading: 1},
	}
	got, err := LoadCandidates(cfg)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "0", got[1].ID)

	_, err = LoadCandidates(config.CatalogConfig{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
