// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
)

var (
	tracer = otel.Tracer("peelcal.dag")
	meter  = otel.Meter("peelcal.dag")
)

// Executor runs a DAG with parallelism and observability.
//
// Description:
//
//	Executor runs every stage whose inputs are published, in parallel,
//	tracks state, and reports through OpenTelemetry. The first stage
//	failure cancels the stages running beside it and fails the run.
//
// Thread Safety:
//
//	Executor is safe for concurrent use. Multiple DAG executions can run
//	concurrently on the same Executor.
type Executor struct {
	dag            *DAG
	logger         *slog.Logger
	defaultTimeout time.Duration

	// Metrics (initialized lazily)
	metricsOnce     sync.Once
	nodeLatency     metric.Float64Histogram
	nodeSuccesses   metric.Int64Counter
	nodeFailures    metric.Int64Counter
	activeNodes     metric.Int64UpDownCounter
	pipelineLatency metric.Float64Histogram
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDefaultTimeout sets the timeout for nodes that don't specify one.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// NewExecutor creates a new DAG executor.
//
// Inputs:
//
//	dag - The DAG to execute. Must not be nil.
//	logger - Logger for execution logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Executor - The configured executor.
//	error - Non-nil if initialization fails.
func NewExecutor(dag *DAG, logger *slog.Logger, opts ...ExecutorOption) (*Executor, error) {
	if dag == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		dag:            dag,
		logger:         logger,
		defaultTimeout: DefaultNodeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.nodeLatency, err = meter.Float64Histogram("peel_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeSuccesses, err = meter.Int64Counter("peel_stage_success_total",
			metric.WithDescription("Number of successful stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		e.nodeFailures, err = meter.Int64Counter("peel_stage_failure_total",
			metric.WithDescription("Number of failed stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.activeNodes, err = meter.Int64UpDownCounter("peel_active_stages",
			metric.WithDescription("Number of currently executing stages"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		e.pipelineLatency, err = meter.Float64Histogram("peel_pipeline_duration_seconds",
			metric.WithDescription("Total pipeline execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "pipeline_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some DAG metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes the DAG from start to completion.
//
// Description:
//
//	Executes all nodes, respecting port dependencies and running
//	independent nodes in parallel. Creates a root span for tracing.
//
// Outputs:
//
//	*Result - Execution result with every published output.
//	error - Non-nil on failure; a stage failure is a *NodeError.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	e.initMetrics()

	ctx, span := tracer.Start(ctx, "dag.Pipeline",
		trace.WithAttributes(
			attribute.String("dag.name", e.dag.Name()),
			attribute.Int("dag.node_count", e.dag.NodeCount()),
		),
	)
	defer span.End()

	start := time.Now()
	sessionID := uuid.NewString()[:12]

	e.logger.Info("pipeline started",
		slog.String("dag", e.dag.Name()),
		slog.String("session_id", sessionID),
		slog.Int("nodes", e.dag.NodeCount()),
	)

	state := NewState(sessionID)
	durations := newDurationMap()

	for !state.IsDAGComplete(e.dag) {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return e.buildResult(state, start, durations, err), err
		}

		ready := e.findReadyNodes(state)
		if len(ready) == 0 {
			err := ErrNoProgress
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return e.buildResult(state, start, durations, err), err
		}

		if err := e.executeParallel(ctx, ready, state, durations); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("pipeline failed",
				slog.String("session_id", sessionID),
				slog.String("failed_node", state.FailedNode),
				slog.String("error", err.Error()),
			)
			return e.buildResult(state, start, durations, err), err
		}
	}

	duration := time.Since(start)
	if e.pipelineLatency != nil {
		e.pipelineLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("dag", e.dag.Name())),
		)
	}

	result := e.buildResult(state, start, durations, nil)
	span.SetStatus(codes.Ok, "")
	e.logger.Info("pipeline completed",
		slog.String("session_id", sessionID),
		slog.Duration("duration", duration),
		slog.Int("nodes_executed", result.NodesExecuted),
	)
	return result, nil
}

// findReadyNodes returns pending nodes whose upstream nodes all completed.
func (e *Executor) findReadyNodes(state *State) []Node {
	ready := make([]Node, 0)

	for _, name := range e.dag.names {
		if state.GetStatus(name) != NodeStatusPending {
			continue
		}

		allDepsComplete := true
		for _, dep := range e.dag.GetDependencies(name) {
			if !state.IsCompleted(dep) {
				allDepsComplete = false
				break
			}
		}

		if allDepsComplete {
			ready = append(ready, e.dag.nodes[name])
		}
	}

	return ready
}

// executeParallel runs multiple nodes concurrently and returns the first
// error. A failure cancels the others.
func (e *Executor) executeParallel(ctx context.Context, nodes []Node, state *State, durations *durationMap) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		n := node
		state.SetStatus(n.ID().String(), NodeStatusRunning)
		g.Go(func() error {
			nodeStart := time.Now()
			err := e.executeNode(gctx, n, state)
			durations.set(n.ID().String(), time.Since(nodeStart))
			return err
		})
	}
	return g.Wait()
}

// executeNode runs a single node with observability.
func (e *Executor) executeNode(ctx context.Context, node Node, state *State) error {
	name := node.ID().String()
	id := node.ID()

	ctx, span := tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("dag.node", name),
			attribute.String("dag.phase", string(id.Phase)),
			attribute.Int("dag.ring", id.Ring),
			attribute.String("dag.session_id", state.SessionID),
		),
	)
	defer span.End()

	if e.activeNodes != nil {
		e.activeNodes.Add(ctx, 1)
		defer e.activeNodes.Add(ctx, -1)
	}

	e.logger.Debug("node starting",
		slog.String("node", name),
		slog.String("session_id", state.SessionID),
	)

	inputs := make(Inputs, len(node.Bindings()))
	for input, ref := range node.Bindings() {
		v, ok := state.GetPort(ref)
		if !ok {
			err := fmt.Errorf("%w: %s from %s", ErrMissingInput, input, ref)
			state.SetFailed(name, err)
			return NewNodeError(name, err)
		}
		inputs[input] = v
	}

	start := time.Now()
	timeout := node.Timeout()
	if timeout == 0 {
		timeout = e.defaultTimeout
	}

	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := node.Execute(nodeCtx, inputs)
	duration := time.Since(start)

	attrs := metric.WithAttributes(
		attribute.String("phase", string(id.Phase)),
		attribute.String("step", id.Step),
	)
	if e.nodeLatency != nil {
		e.nodeLatency.Record(ctx, duration.Seconds(), attrs)
	}

	if err == nil {
		for _, p := range node.Ports() {
			if _, ok := output[p]; !ok {
				err = fmt.Errorf("%w: %s", ErrMissingOutput, p)
				break
			}
		}
	}

	if err != nil {
		if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s after %s", ErrNodeTimeout, name, timeout)
		}

		if e.nodeFailures != nil {
			e.nodeFailures.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		state.SetFailed(name, err)

		e.logger.Error("node failed",
			slog.String("node", name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)

		return NewNodeError(name, err)
	}

	if e.nodeSuccesses != nil {
		e.nodeSuccesses.Add(ctx, 1, attrs)
	}
	span.SetStatus(codes.Ok, "")

	state.SetCompleted(name, output)

	e.logger.Debug("node completed",
		slog.String("node", name),
		slog.Duration("duration", duration),
	)

	return nil
}

// buildResult constructs the execution result.
func (e *Executor) buildResult(state *State, start time.Time, durations *durationMap, err error) *Result {
	result := &Result{
		SessionID:     state.SessionID,
		Duration:      time.Since(start),
		NodesExecuted: state.CompletedCount(),
		NodeDurations: durations.snapshot(),
		outputs:       state.snapshot(),
	}

	switch {
	case err != nil:
		result.Error = err.Error()
		result.FailedNode = state.FailedNode
	case state.IsFailed():
		result.Error = state.Error
		result.FailedNode = state.FailedNode
	default:
		result.Success = true
	}

	return result
}

type durationMap struct {
	mu sync.Mutex
	m  map[string]time.Duration
}

func newDurationMap() *durationMap {
	return &durationMap{m: make(map[string]time.Duration)}
}

func (d *durationMap) set(name string, v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[name] = v
}

func (d *durationMap) snapshot() map[string]time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]time.Duration, len(d.m))
	for k, v := range d.m {
		out[k] = v
	}
	return out
}
