// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package peel runs the peeling pipeline and serves its results.
//
// The Runner ties configuration, catalog selection, ring planning and the
// peeling controller together, writes the final image, and persists a
// summary plus one record per ring. The Handlers expose those records
// over HTTP under /v1/peel.
package peel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/config"
	"github.com/AleutianAI/peelcal/services/peel/ephem"
	"github.com/AleutianAI/peelcal/services/peel/gain"
	"github.com/AleutianAI/peelcal/services/peel/imaging"
	"github.com/AleutianAI/peelcal/services/peel/peeling"
	"github.com/AleutianAI/peelcal/services/peel/sink"
	"github.com/AleutianAI/peelcal/services/peel/skymodel"
	"github.com/AleutianAI/peelcal/services/peel/store"
	"github.com/AleutianAI/peelcal/services/peel/telemetry"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// ServiceVersion is the peelcal version reported by the API and CLI.
const ServiceVersion = "0.3.0"

// ErrInvalidRequest is returned when a run request is incomplete.
var ErrInvalidRequest = errors.New("invalid run request")

// GeneratorFactory builds the sky model generator for one run.
type GeneratorFactory func(arr *array.Array, obs ephem.Observer, frequency float64, times int) skymodel.Generator

// PointSourceGenerator is the default GeneratorFactory.
func PointSourceGenerator(arr *array.Array, obs ephem.Observer, frequency float64, times int) skymodel.Generator {
	return skymodel.PointSource{Array: arr, Observer: obs, Frequency: frequency, Times: times}
}

// Runner executes peel runs from a configuration.
//
// Thread Safety: Safe for concurrent use. Each Run builds its own plan
// and controller.
type Runner struct {
	cfg       config.Config
	store     *store.RunStore
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	solver    gain.Solver
	imager    imaging.Imager
	generator GeneratorFactory
	sinks     []sink.Sink
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore persists every run.
func WithStore(s *store.RunStore) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// WithMetrics records run, ring and flag metrics.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithSolver replaces the StEFCal solver.
func WithSolver(s gain.Solver) RunnerOption {
	return func(r *Runner) { r.solver = s }
}

// WithImager replaces the configured nearest-neighbor imager.
func WithImager(im imaging.Imager) RunnerOption {
	return func(r *Runner) { r.imager = im }
}

// WithGenerator replaces the point-source sky model.
func WithGenerator(f GeneratorFactory) RunnerOption {
	return func(r *Runner) { r.generator = f }
}

// WithSinks publishes every successful run to each sink.
func WithSinks(sinks ...sink.Sink) RunnerOption {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// NewRunner creates a Runner for cfg.
func NewRunner(cfg config.Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		logger:    slog.Default(),
		solver:    gain.StEFCal{},
		imager:    cfg.Imaging.NearestNeighbor,
		generator: PointSourceGenerator,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RunRequest is one pipeline input.
type RunRequest struct {
	// Input labels the visibility source in the summary.
	Input string

	Vis   *visibility.Tensor
	Array *array.Array

	// Candidates are the ranked peel candidates, brightest first.
	Candidates []catalog.Source

	// Prior seeds every solve. Nil uses identity.
	Prior *visibility.Jones
}

// Outcome is a finished run.
type Outcome struct {
	Summary store.Summary
	Rings   []store.RingRecord
	Result  *peeling.Result
}

// Run plans, executes and persists one run.
//
// Description:
//
//	A failure after planning is still persisted, with StatusFailed and
//	the error text, so the API shows failed runs too. That covers stage
//	failures and failures writing images or saving rings. Planning errors
//	are returned without a record.
//
// Inputs:
//
//	ctx - Cancels every stage.
//	req - Visibilities, array and ranked candidates.
//
// Outputs:
//
//	*Outcome - Summary, ring records and the controller result.
//	error - ErrInvalidRequest, a planning error, the failing stage's
//	        *dag.NodeError, or an output or store error. The Outcome is
//	        non-nil for every error after planning.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	if req.Vis == nil || req.Array == nil {
		return nil, fmt.Errorf("%w: visibilities and array are required", ErrInvalidRequest)
	}
	plan, err := peeling.BuildPlan(req.Candidates, r.cfg.Observer, r.cfg.PlanOptions())
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := r.logger.With(slog.String("run_id", id))
	ctrl, err := peeling.NewController(plan, peeling.Deps{
		Array:     req.Array,
		Generator: r.generator(req.Array, r.cfg.Observer, r.cfg.Frequency, req.Vis.Times),
		Solver:    r.solver,
		Imager:    r.imager,
		Metrics:   r.metrics,
		Logger:    logger,
	}, r.cfg.PeelOptions())
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	sum := store.Summary{
		ID:         id,
		StartedAt:  started,
		Input:      req.Input,
		Frequency:  r.cfg.Frequency,
		Considered: plan.Considered,
		Peeled:     plan.Peeled(),
		Skipped:    skippedIDs(plan),
	}

	res, err := ctrl.Run(ctx, req.Vis, req.Prior)
	sum.DurationSeconds = time.Since(started).Seconds()
	if err != nil {
		return r.fail(ctx, logger, sum, nil, err)
	}

	sum.Status = store.StatusSucceeded
	sum.SetupFlags = res.SetupFlags
	sum.Stats = res.Rendered.Stats
	sum.Average = store.NewJonesRecord(res.Average)
	sum.StageSeconds = make(map[string]float64, len(res.StageDurations))
	for stage, d := range res.StageDurations {
		sum.StageSeconds[stage] = d.Seconds()
	}

	outputs, err := r.writeImages(id, res)
	if err != nil {
		return r.fail(ctx, logger, sum, res, fmt.Errorf("write images: %w", err))
	}
	sum.Outputs = outputs

	rings := RingRecords(res)
	r.publish(ctx, logger, &sum, rings)
	if err := r.save(ctx, sum, rings); err != nil {
		return r.fail(ctx, logger, sum, res, err)
	}
	r.metrics.RecordRun(ctx, string(store.StatusSucceeded), sum.DurationSeconds)

	logger.Info("peel run complete",
		slog.Int("rings", sum.Peeled),
		slog.Int("skipped", len(sum.Skipped)),
		slog.Float64("snr", sum.Stats.SNR),
		slog.Float64("seconds", sum.DurationSeconds),
	)
	return &Outcome{Summary: sum, Rings: rings, Result: res}, nil
}

// fail marks sum failed with err, counts it, persists the summary without
// rings and returns err. res is nil when the controller itself failed.
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, sum store.Summary, res *peeling.Result, err error) (*Outcome, error) {
	sum.Status = store.StatusFailed
	sum.Error = err.Error()
	r.metrics.RecordRun(ctx, string(store.StatusFailed), sum.DurationSeconds)
	logger.Error("peel run failed", slog.String("error", err.Error()))
	// The run context may be canceled; the record should still land.
	if saveErr := r.save(context.WithoutCancel(ctx), sum, nil); saveErr != nil {
		logger.Warn("persist failed run", slog.String("error", saveErr.Error()))
	}
	return &Outcome{Summary: sum, Result: res}, err
}

// publish hands the run to every sink. Failures are logged only.
func (r *Runner) publish(ctx context.Context, logger *slog.Logger, sum *store.Summary, rings []store.RingRecord) {
	for _, s := range r.sinks {
		if err := s.Publish(ctx, sum, rings); err != nil {
			logger.Warn("publish run",
				slog.String("sink", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Runner) save(ctx context.Context, sum store.Summary, rings []store.RingRecord) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveRun(ctx, sum); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	for _, rec := range rings {
		if err := r.store.SaveRing(ctx, sum.ID, rec); err != nil {
			return fmt.Errorf("save ring %d: %w", rec.Ring, err)
		}
	}
	return nil
}

// writeImages saves the rendered image as configured and returns the
// written paths by kind.
func (r *Runner) writeImages(id string, res *peeling.Result) (map[string]string, error) {
	cfg := r.cfg.Imaging
	if cfg.OutputDir == "" || (!cfg.FITS && !cfg.PNG) {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.OutputDir, 0750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	out := make(map[string]string, 2)
	if cfg.FITS {
		path := filepath.Join(cfg.OutputDir, id+".fits")
		meta := imaging.Metadata{
			Object:    "all-sky",
			Frequency: r.cfg.Frequency,
			Observed:  r.cfg.Observer.Time.UTC().Format("2006-01-02T15:04:05"),
			RunID:     id,
		}
		if err := imaging.SaveFITS(path, res.Rendered.Raw, meta); err != nil {
			return nil, err
		}
		out["fits"] = path
	}
	if cfg.PNG {
		path := filepath.Join(cfg.OutputDir, id+".png")
		if err := imaging.SavePNG(path, res.Rendered.Image, cfg.LogScale); err != nil {
			return nil, err
		}
		out["png"] = path
	}
	return out, nil
}

// RingRecords converts every ring of res to its persisted form.
func RingRecords(res *peeling.Result) []store.RingRecord {
	recs := make([]store.RingRecord, 0, len(res.Rings))
	for _, i := range res.RingIndices() {
		rs := res.Rings[i]
		ids := make([]string, len(rs.Sources))
		for k, s := range rs.Sources {
			ids[k] = s.ID
		}
		recs = append(recs, store.RingRecord{
			Ring:        i,
			Sources:     ids,
			Joint:       rs.Joint,
			Peeled:      rs.Peeled(),
			Singular:    rs.Singular,
			Flags:       rs.Flags,
			PeelFlags:   rs.PeelFlags,
			ResidualIn:  maxAbs(rs.ResidualIn),
			ResidualOut: maxAbs(rs.ResidualOut),
			Jones:       store.NewJonesRecord(rs.Jones),
			PeelJones:   store.NewJonesRecord(rs.PeelJones),
		})
	}
	return recs
}

func maxAbs(t *visibility.Tensor) float64 {
	if t == nil {
		return 0
	}
	return t.MaxAbs()
}

func skippedIDs(plan *peeling.Plan) []string {
	if len(plan.Skipped) == 0 {
		return nil
	}
	ids := make([]string, len(plan.Skipped))
	for i, s := range plan.Skipped {
		ids[i] = s.ID
	}
	return ids
}
