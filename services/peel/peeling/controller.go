// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peeling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/dag"
	"github.com/AleutianAI/peelcal/services/peel/flagging"
	"github.com/AleutianAI/peelcal/services/peel/gain"
	"github.com/AleutianAI/peelcal/services/peel/imaging"
	"github.com/AleutianAI/peelcal/services/peel/skymodel"
	"github.com/AleutianAI/peelcal/services/peel/telemetry"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// Deps are the collaborators a Controller calls.
type Deps struct {
	Array     *array.Array
	Generator skymodel.Generator
	Solver    gain.Solver
	Imager    imaging.Imager

	// Metrics is optional.
	Metrics *telemetry.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Options are the per-run settings.
type Options struct {
	// Frequency is the operating frequency in Hz.
	Frequency float64

	Thresholds flagging.Thresholds
	Solver     gain.Params

	// Normalize divides the clean visibilities by their nonzero median
	// before they enter ring 0.
	Normalize bool

	// StageTimeout bounds every stage. Zero uses dag.DefaultNodeTimeout.
	StageTimeout time.Duration
}

// DefaultOptions returns the standard settings at frequency.
func DefaultOptions(frequency float64) Options {
	return Options{
		Frequency:    frequency,
		Thresholds:   flagging.DefaultThresholds(),
		Solver:       gain.DefaultParams(),
		Normalize:    true,
		StageTimeout: dag.DefaultNodeTimeout,
	}
}

// Controller runs the two-phase peel for one plan.
//
// Description:
//
//	The controller turns its plan into a stage graph:
//
//	  setup:   self threshold → bad stands → normalize
//	  prepeel: model, flag, solve, adjust, scale, subtract per ring,
//	           chained through the running residual
//	  peel:    unpeel, flag, solve for rings 0..N-2, all in parallel
//	  combine: average, calibrate, image
//
//	Every solve starts from the input Jones. The last ring's PREPEEL
//	solution stands in for its PEEL solution when averaging.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Run builds its own graph.
type Controller struct {
	plan    *Plan
	deps    Deps
	opts    Options
	logger  *slog.Logger
	flagger *flagging.Flagger
	gains   *gain.Stage
}

// NewController validates the plan and collaborators.
func NewController(plan *Plan, deps Deps, opts Options) (*Controller, error) {
	if plan == nil || plan.Peeled() == 0 {
		return nil, fmt.Errorf("%w: plan has no rings", ErrInvalidConfig)
	}
	if deps.Array == nil || deps.Generator == nil || deps.Solver == nil || deps.Imager == nil {
		return nil, ErrNilDependency
	}
	if opts.Frequency <= 0 {
		return nil, fmt.Errorf("%w: frequency must be positive", ErrInvalidConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gains, err := gain.NewStage(deps.Solver, deps.Array, opts.Solver, logger)
	if err != nil {
		return nil, err
	}

	return &Controller{
		plan:    plan,
		deps:    deps,
		opts:    opts,
		logger:  logger,
		flagger: flagging.New(deps.Array, opts.Frequency, opts.Thresholds, logger),
		gains:   gains,
	}, nil
}

// Plan returns the ring assignment.
func (c *Controller) Plan() *Plan {
	return c.plan
}

// Result is the outcome of a successful run.
type Result struct {
	SessionID string
	Plan      *Plan

	// Rings is keyed by ring index.
	Rings map[int]*RingState

	SetupFlags []flagging.Report

	// Clean is the self-thresholded, bad-stand flagged input.
	Clean *visibility.Tensor

	// UV is the ring 0 sampling used for every image.
	UV *visibility.UV

	Average    *visibility.Jones
	Calibrated *visibility.Tensor
	Rendered   Rendered

	Duration       time.Duration
	StageDurations map[string]time.Duration
}

// RingIndices returns the ring keys in order.
func (r *Result) RingIndices() []int {
	idx := make([]int, 0, len(r.Rings))
	for i := range r.Rings {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Solutions returns the averaged solutions in ring order.
func (r *Result) Solutions() []*visibility.Jones {
	out := make([]*visibility.Jones, 0, len(r.Rings))
	for _, i := range r.RingIndices() {
		out = append(out, r.Rings[i].Solution())
	}
	return out
}

// Run executes the pipeline on raw visibilities.
//
// Inputs:
//
//	ctx - Cancels every stage.
//	vis - Raw visibilities for the array.
//	prior - Starting Jones for every solve. Nil uses identity.
//
// Outputs:
//
//	*Result - Every ring's state and the final image.
//	error - A validation error, or a *dag.NodeError from the failing stage.
func (c *Controller) Run(ctx context.Context, vis *visibility.Tensor, prior *visibility.Jones) (*Result, error) {
	if prior == nil {
		prior = visibility.NewIdentityJones(1, c.deps.Array.Stands())
	}
	graph, err := c.Graph(vis, prior)
	if err != nil {
		return nil, err
	}

	exec, err := dag.NewExecutor(graph, c.logger, dag.WithDefaultTimeout(c.opts.StageTimeout))
	if err != nil {
		return nil, err
	}

	c.logger.Info("peel started",
		slog.Int("rings", c.plan.Peeled()),
		slog.Int("considered", c.plan.Considered),
		slog.Int("skipped", len(c.plan.Skipped)),
	)

	res, err := exec.Run(ctx)
	if err != nil {
		return nil, err
	}
	return c.collect(res)
}

// Graph builds the stage graph for one run.
func (c *Controller) Graph(vis *visibility.Tensor, prior *visibility.Jones) (*dag.DAG, error) {
	if vis == nil || prior == nil {
		return nil, fmt.Errorf("%w: visibilities and prior are required", ErrInvalidConfig)
	}
	if vis.Stands != c.deps.Array.Stands() {
		return nil, fmt.Errorf("%w: visibilities have %d stands, array has %d",
			visibility.ErrShapeMismatch, vis.Stands, c.deps.Array.Stands())
	}
	if !prior.Compatible(vis) {
		return nil, fmt.Errorf("%w: prior [%d times, %d stands], data %s",
			gain.ErrIncompatibleJones, prior.Times, prior.Stands, vis.Shape())
	}

	b := dag.NewBuilder("peel")
	c.addSetup(b, vis, prior)

	n := c.plan.Peeled()
	for _, ring := range c.plan.Rings {
		c.addPrepeel(b, ring)
	}
	for i := 0; i < n-1; i++ {
		c.addPeel(b, i, n)
	}
	c.addCombine(b, n)

	return b.Build()
}

// Stage steps.
const (
	stepInput     = "input"
	stepSelf      = "self_threshold"
	stepBadStands = "bad_stands"
	stepNormalize = "normalize"
	stepModel     = "model"
	stepFlag      = "flag"
	stepSolve     = "solve"
	stepAdjust    = "adjust"
	stepScale     = "scale"
	stepSubtract  = "subtract"
	stepUnpeel    = "unpeel"
	stepAverage   = "average"
	stepCalibrate = "calibrate"
	stepImage     = "image"
)

// Output ports.
const (
	portVis       = "vis"
	portJones     = "jones"
	portReports   = "reports"
	portClean     = "clean"
	portResidual  = "residual"
	portModel     = "model"
	portUV        = "uv"
	portData      = "data"
	portLongModel = "long_model"
	portLongData  = "long_data"
	portAdjusted  = "adjusted"
	portSingular  = "singular"
	portScaled    = "scaled"
	portUnpeeled  = "unpeeled"
	portRendered  = "rendered"
)

func setupStage(step string) dag.StageID {
	return dag.StageID{Phase: dag.PhaseSetup, Ring: dag.NoRing, Step: step}
}

func ringStage(phase dag.Phase, ring int, step string) dag.StageID {
	return dag.StageID{Phase: phase, Ring: ring, Step: step}
}

func combineStage(step string) dag.StageID {
	return dag.StageID{Phase: dag.PhaseCombine, Ring: dag.NoRing, Step: step}
}

func port(id dag.StageID, name string) dag.PortRef {
	return dag.PortRef{Stage: id, Port: name}
}

func (c *Controller) addSetup(b *dag.Builder, vis *visibility.Tensor, prior *visibility.Jones) {
	input := setupStage(stepInput)
	self := setupStage(stepSelf)
	bad := setupStage(stepBadStands)
	norm := setupStage(stepNormalize)

	b.AddNode(dag.NewFuncNode(input, nil, []string{portVis, portJones},
		func(context.Context, dag.Inputs) (dag.Outputs, error) {
			return dag.Outputs{portVis: vis.Clone(), portJones: prior.Clone()}, nil
		}))

	b.AddNode(dag.NewFuncNode(self,
		map[string]dag.PortRef{"vis": port(input, portVis)},
		[]string{portVis, portReports},
		func(ctx context.Context, in dag.Inputs) (dag.Outputs, error) {
			v, err := dag.Input[*visibility.Tensor](in, "vis")
			if err != nil {
				return nil, err
			}
			out, rep := c.flagger.ThresholdAgainstSelf(v)
			c.recordFlags(ctx, self, rep)
			return dag.Outputs{portVis: out, portReports: []flagging.Report{rep}}, nil
		}))

	b.AddNode(dag.NewFuncNode(bad,
		map[string]dag.PortRef{"vis": port(self, portVis)},
		[]string{portClean},
		func(_ context.Context, in dag.Inputs) (dag.Outputs, error) {
			v, err := dag.Input[*visibility.Tensor](in, "vis")
			if err != nil {
				return nil, err
			}
			return dag.Outputs{portClean: c.flagger.BadStands(v)}, nil
		}))

	b.AddNode(dag.NewFuncNode(norm,
		map[string]dag.PortRef{"clean": port(bad, portClean)},
		[]string{portResidual},
		func(_ context.Context, in dag.Inputs) (dag.Outputs, error) {
			v, err := dag.Input[*visibility.Tensor](in, "clean")
			if err != nil {
				return nil, err
			}
			if !c.opts.Normalize {
				return dag.Outputs{portResidual: v.Clone()}, nil
			}
			return dag.Outputs{portResidual: flagging.NormalizeMedian(v)}, nil
		}))
}

func (c *Controller) addPrepeel(b *dag.Builder, ring Ring) {
	i := ring.Index
	model := ringStage(dag.PhasePrepeel, i, stepModel)
	flag := ringStage(dag.PhasePrepeel, i, stepFlag)
	solve := ringStage(dag.PhasePrepeel, i, stepSolve)
	adjust := ringStage(dag.PhasePrepeel, i, stepAdjust)
	scale := ringStage(dag.PhasePrepeel, i, stepScale)
	subtract := ringStage(dag.PhasePrepeel, i, stepSubtract)

	residual := port(setupStage(stepNormalize), portResidual)
	if i > 0 {
		residual = port(ringStage(dag.PhasePrepeel, i-1, stepSubtract), portResidual)
	}
	uv := port(ringStage(dag.PhasePrepeel, 0, stepModel), portUV)

	sources := ring.Sources
	b.AddNode(dag.NewFuncNode(model, nil, []string{portModel, portUV},
		func(ctx context.Context, _ dag.Inputs) (dag.Outputs, error) {
			out, err := c.deps.Generator.Generate(ctx, sources)
			if err != nil {
				return nil, fmt.Errorf("generate model: %w", err)
			}
			if out.Model == nil || out.UV == nil {
				return nil, ErrIncompleteModel
			}
			return dag.Outputs{portModel: c.flagger.BadStands(out.Model), portUV: out.UV}, nil
		}))

	b.AddNode(c.flagNode(flag, port(model, portModel), residual))
	b.AddNode(c.solveNode(solve, flag))

	b.AddNode(dag.NewFuncNode(adjust,
		map[string]dag.PortRef{"model": port(flag, portModel), "jones": port(solve, portJones)},
		[]string{portAdjusted, portSingular},
		func(_ context.Context, in dag.Inputs) (dag.Outputs, error) {
			m, err := dag.Input[*visibility.Tensor](in, "model")
			if err != nil {
				return nil, err
			}
			j, err := dag.Input[*visibility.Jones](in, "jones")
			if err != nil {
				return nil, err
			}
			adjusted, singular, err := gain.ApplyInverseGains(m, j, c.deps.Array)
			if err != nil {
				return nil, err
			}
			if len(singular) > 0 {
				c.logger.Warn("singular jones blocks zeroed",
					slog.Int("ring", i),
					slog.Any("stands", singular),
				)
			}
			return dag.Outputs{portAdjusted: adjusted, portSingular: singular}, nil
		}))

	b.AddNode(dag.NewFuncNode(scale,
		map[string]dag.PortRef{
			"data":     port(flag, portData),
			"adjusted": port(adjust, portAdjusted),
			"uv":       uv,
		},
		[]string{portScaled},
		func(ctx context.Context, in dag.Inputs) (dag.Outputs, error) {
			data, err := dag.Input[*visibility.Tensor](in, "data")
			if err != nil {
				return nil, err
			}
			adjusted, err := dag.Input[*visibility.Tensor](in, "adjusted")
			if err != nil {
				return nil, err
			}
			coords, err := dag.Input[*visibility.UV](in, "uv")
			if err != nil {
				return nil, err
			}
			dataImage, err := c.deps.Imager.Image(ctx, data, coords)
			if err != nil {
				return nil, fmt.Errorf("image residual: %w", err)
			}
			modelImage, err := c.deps.Imager.Image(ctx, adjusted, coords)
			if err != nil {
				return nil, fmt.Errorf("image model: %w", err)
			}
			return dag.Outputs{portScaled: imaging.ScaleNinetyNinth(dataImage, modelImage, adjusted)}, nil
		}))

	b.AddNode(dag.NewFuncNode(subtract,
		map[string]dag.PortRef{"residual": residual, "scaled": port(scale, portScaled)},
		[]string{portResidual},
		func(ctx context.Context, in dag.Inputs) (dag.Outputs, error) {
			r, err := dag.Input[*visibility.Tensor](in, "residual")
			if err != nil {
				return nil, err
			}
			s, err := dag.Input[*visibility.Tensor](in, "scaled")
			if err != nil {
				return nil, err
			}
			next := r.Clone()
			if !r.IsZero() {
				if next, err = r.Sub(s); err != nil {
					return nil, err
				}
			}
			c.deps.Metrics.RecordRing(ctx, string(dag.PhasePrepeel))
			c.logger.Info("ring subtracted",
				slog.Int("ring", i),
				slog.Any("sources", ring.SourceIDs()),
				slog.Float64("residual_peak", next.MaxAbs()),
			)
			return dag.Outputs{portResidual: next}, nil
		}))
}

func (c *Controller) addPeel(b *dag.Builder, i, n int) {
	unpeel := ringStage(dag.PhasePeel, i, stepUnpeel)
	flag := ringStage(dag.PhasePeel, i, stepFlag)
	solve := ringStage(dag.PhasePeel, i, stepSolve)

	peeled := port(ringStage(dag.PhasePrepeel, n-1, stepSubtract), portResidual)
	scaled := port(ringStage(dag.PhasePrepeel, i, stepScale), portScaled)
	model := port(ringStage(dag.PhasePrepeel, i, stepModel), portModel)

	b.AddNode(dag.NewFuncNode(unpeel,
		map[string]dag.PortRef{"peeled": peeled, "scaled": scaled},
		[]string{portUnpeeled},
		func(_ context.Context, in dag.Inputs) (dag.Outputs, error) {
			p, err := dag.Input[*visibility.Tensor](in, "peeled")
			if err != nil {
				return nil, err
			}
			s, err := dag.Input[*visibility.Tensor](in, "scaled")
			if err != nil {
				return nil, err
			}
			sky, err := p.Add(s)
			if err != nil {
				return nil, err
			}
			return dag.Outputs{portUnpeeled: sky}, nil
		}))

	b.AddNode(c.flagNode(flag, model, port(unpeel, portUnpeeled)))
	b.AddNode(c.solveNode(solve, flag))
}

func (c *Controller) addCombine(b *dag.Builder, n int) {
	average := combineStage(stepAverage)
	calibrate := combineStage(stepCalibrate)
	render := combineStage(stepImage)

	solutions := make(map[string]dag.PortRef, n)
	for i := 0; i < n-1; i++ {
		solutions[ringInput(i)] = port(ringStage(dag.PhasePeel, i, stepSolve), portJones)
	}
	solutions[ringInput(n-1)] = port(ringStage(dag.PhasePrepeel, n-1, stepSolve), portJones)

	b.AddNode(dag.NewFuncNode(average, solutions, []string{portJones},
		func(_ context.Context, in dag.Inputs) (dag.Outputs, error) {
			js := make([]*visibility.Jones, n)
			for i := range js {
				j, err := dag.Input[*visibility.Jones](in, ringInput(i))
				if err != nil {
					return nil, err
				}
				js[i] = j
			}
			avg, err := Average(js...)
			if err != nil {
				return nil, err
			}
			return dag.Outputs{portJones: avg}, nil
		}))

	b.AddNode(dag.NewFuncNode(calibrate,
		map[string]dag.PortRef{
			"clean": port(setupStage(stepBadStands), portClean),
			"jones": port(average, portJones),
		},
		[]string{portVis},
		func(_ context.Context, in dag.Inputs) (dag.Outputs, error) {
			clean, err := dag.Input[*visibility.Tensor](in, "clean")
			if err != nil {
				return nil, err
			}
			avg, err := dag.Input[*visibility.Jones](in, "jones")
			if err != nil {
				return nil, err
			}
			out, err := CalibrateFull(clean, avg, c.deps.Array)
			if err != nil {
				return nil, err
			}
			return dag.Outputs{portVis: out}, nil
		}))

	b.AddNode(dag.NewFuncNode(render,
		map[string]dag.PortRef{
			"vis": port(calibrate, portVis),
			"uv":  port(ringStage(dag.PhasePrepeel, 0, stepModel), portUV),
		},
		[]string{portRendered},
		func(ctx context.Context, in dag.Inputs) (dag.Outputs, error) {
			vis, err := dag.Input[*visibility.Tensor](in, "vis")
			if err != nil {
				return nil, err
			}
			coords, err := dag.Input[*visibility.UV](in, "uv")
			if err != nil {
				return nil, err
			}
			r, err := Render(ctx, c.deps.Imager, vis, coords, c.opts.Frequency)
			if err != nil {
				return nil, err
			}
			c.logger.Info("sky image rendered",
				slog.Float64("snr", r.Stats.SNR),
				slog.Float64("peak", r.Raw.MaxAmplitude()),
			)
			return dag.Outputs{portRendered: r}, nil
		}))
}

func ringInput(i int) string {
	return fmt.Sprintf("ring%04d", i)
}

// flagNode thresholds a model against data, then length-flags both.
func (c *Controller) flagNode(id dag.StageID, model, data dag.PortRef) dag.Node {
	return dag.NewFuncNode(id,
		map[string]dag.PortRef{"model": model, "data": data},
		[]string{portModel, portData, portLongModel, portLongData, portReports},
		func(ctx context.Context, in dag.Inputs) (dag.Outputs, error) {
			m, err := dag.Input[*visibility.Tensor](in, "model")
			if err != nil {
				return nil, err
			}
			d, err := dag.Input[*visibility.Tensor](in, "data")
			if err != nil {
				return nil, err
			}
			if !m.SameShape(d) {
				return nil, fmt.Errorf("%w: model %s, data %s", visibility.ErrShapeMismatch, m.Shape(), d.Shape())
			}
			tm, td, modelRep := c.flagger.ThresholdAgainstModel(m, d)
			lm, ld, lengthRep := c.flagger.LengthFlag(tm, td)
			reports := []flagging.Report{modelRep, lengthRep}
			c.recordFlags(ctx, id, reports...)
			return dag.Outputs{
				portModel:     tm,
				portData:      td,
				portLongModel: lm,
				portLongData:  ld,
				portReports:   reports,
			}, nil
		})
}

// solveNode solves the flag stage's long baselines from the input Jones.
func (c *Controller) solveNode(id, flag dag.StageID) dag.Node {
	return dag.NewFuncNode(id,
		map[string]dag.PortRef{
			"model": port(flag, portLongModel),
			"data":  port(flag, portLongData),
			"prior": port(setupStage(stepInput), portJones),
		},
		[]string{portJones},
		func(ctx context.Context, in dag.Inputs) (dag.Outputs, error) {
			m, err := dag.Input[*visibility.Tensor](in, "model")
			if err != nil {
				return nil, err
			}
			d, err := dag.Input[*visibility.Tensor](in, "data")
			if err != nil {
				return nil, err
			}
			prior, err := dag.Input[*visibility.Jones](in, "prior")
			if err != nil {
				return nil, err
			}
			j, err := c.gains.Solve(ctx, d, m, prior)
			if err != nil {
				return nil, err
			}
			if id.Phase == dag.PhasePeel {
				c.deps.Metrics.RecordRing(ctx, string(dag.PhasePeel))
				c.logger.Info("ring peeled", slog.Int("ring", id.Ring))
			}
			return dag.Outputs{portJones: j}, nil
		})
}

func (c *Controller) recordFlags(ctx context.Context, id dag.StageID, reports ...flagging.Report) {
	for _, rep := range reports {
		c.deps.Metrics.RecordFlagged(ctx, rep.Flagger, rep.Baselines)
		c.logger.Debug("stage flagged baselines",
			slog.String("stage", id.String()),
			slog.Int("ring", id.Ring),
			slog.String("flagger", rep.Flagger),
			slog.Int("flagged", rep.Baselines),
		)
	}
}

// collect reads every ring's ports back out of a finished run.
func (c *Controller) collect(res *dag.Result) (*Result, error) {
	g := &getter{res: res}
	n := c.plan.Peeled()

	out := &Result{
		SessionID:      res.SessionID,
		Plan:           c.plan,
		Rings:          make(map[int]*RingState, n),
		Duration:       res.Duration,
		StageDurations: res.NodeDurations,
	}
	out.SetupFlags = get[[]flagging.Report](g, setupStage(stepSelf), portReports)
	out.Clean = get[*visibility.Tensor](g, setupStage(stepBadStands), portClean)
	out.UV = get[*visibility.UV](g, ringStage(dag.PhasePrepeel, 0, stepModel), portUV)

	for _, ring := range c.plan.Rings {
		i := ring.Index
		residualIn := ringStage(dag.PhasePrepeel, i-1, stepSubtract)
		if i == 0 {
			residualIn = setupStage(stepNormalize)
		}
		flag := ringStage(dag.PhasePrepeel, i, stepFlag)
		adjust := ringStage(dag.PhasePrepeel, i, stepAdjust)

		rs := &RingState{
			Index:            i,
			Sources:          ring.Sources,
			Joint:            ring.Joint,
			Model:            get[*visibility.Tensor](g, ringStage(dag.PhasePrepeel, i, stepModel), portModel),
			ThresholdedModel: get[*visibility.Tensor](g, flag, portModel),
			ThresholdedData:  get[*visibility.Tensor](g, flag, portData),
			LongModel:        get[*visibility.Tensor](g, flag, portLongModel),
			LongData:         get[*visibility.Tensor](g, flag, portLongData),
			Flags:            get[[]flagging.Report](g, flag, portReports),
			Jones:            get[*visibility.Jones](g, ringStage(dag.PhasePrepeel, i, stepSolve), portJones),
			AdjustedModel:    get[*visibility.Tensor](g, adjust, portAdjusted),
			Singular:         get[[]int](g, adjust, portSingular),
			ScaledModel:      get[*visibility.Tensor](g, ringStage(dag.PhasePrepeel, i, stepScale), portScaled),
			ResidualIn:       get[*visibility.Tensor](g, residualIn, portResidual),
			ResidualOut:      get[*visibility.Tensor](g, ringStage(dag.PhasePrepeel, i, stepSubtract), portResidual),
		}
		if i < n-1 {
			rs.Unpeeled = get[*visibility.Tensor](g, ringStage(dag.PhasePeel, i, stepUnpeel), portUnpeeled)
			rs.PeelFlags = get[[]flagging.Report](g, ringStage(dag.PhasePeel, i, stepFlag), portReports)
			rs.PeelJones = get[*visibility.Jones](g, ringStage(dag.PhasePeel, i, stepSolve), portJones)
		}
		out.Rings[i] = rs
	}

	out.Average = get[*visibility.Jones](g, combineStage(stepAverage), portJones)
	out.Calibrated = get[*visibility.Tensor](g, combineStage(stepCalibrate), portVis)
	out.Rendered = get[Rendered](g, combineStage(stepImage), portRendered)

	if g.err != nil {
		return nil, fmt.Errorf("collect results: %w", g.err)
	}
	return out, nil
}

// getter reads typed ports and keeps the first error.
type getter struct {
	res *dag.Result
	err error
}

func get[T any](g *getter, id dag.StageID, name string) T {
	var zero T
	if g.err != nil {
		return zero
	}
	v, err := dag.PortAs[T](g.res, port(id, name))
	if err != nil {
		g.err = err
		return zero
	}
	return v
}
