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
	"fmt"
	"sort"
	"sync"
	"time"
)

// Phase groups stages of the pipeline.
type Phase string

// Pipeline phases.
const (
	PhaseSetup   Phase = "setup"
	PhasePrepeel Phase = "prepeel"
	PhasePeel    Phase = "peel"
	PhaseCombine Phase = "combine"
)

// NoRing marks a stage that does not belong to a ring.
const NoRing = -1

// StageID identifies a stage.
//
// Description:
//
//	Ring identity is carried as an integer, never folded into a string
//	by callers. String renders a canonical name used for logs, metrics
//	and map keys; two distinct StageIDs always render differently as long
//	as Step contains no '/'.
type StageID struct {
	Phase Phase  `json:"phase"`
	Ring  int    `json:"ring"`
	Step  string `json:"step"`
}

// String renders "phase/ring/step", or "phase/step" for NoRing.
func (id StageID) String() string {
	if id.Ring == NoRing {
		return fmt.Sprintf("%s/%s", id.Phase, id.Step)
	}
	return fmt.Sprintf("%s/%04d/%s", id.Phase, id.Ring, id.Step)
}

// PortRef names one output port of one stage.
type PortRef struct {
	Stage StageID `json:"stage"`
	Port  string  `json:"port"`
}

// String renders "stage:port".
func (r PortRef) String() string {
	return r.Stage.String() + ":" + r.Port
}

// Inputs are a stage's bound input values keyed by local input name.
type Inputs map[string]any

// Outputs are a stage's published values keyed by output port.
type Outputs map[string]any

// Input returns the named input as T.
func Input[T any](in Inputs, name string) (T, error) {
	var zero T
	v, ok := in[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMissingInput, name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, want %T", ErrInputType, name, v, zero)
	}
	return t, nil
}

// Node represents a single stage in the pipeline.
//
// Description:
//
//	Each node has a unique StageID, declares its output ports and binds
//	each of its inputs to an upstream (stage, port). Dependencies are
//	derived from the bindings.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. Execute may be called
//	concurrently with other nodes. Execute must not mutate its inputs;
//	published outputs are shared with every downstream stage.
type Node interface {
	// ID returns the unique identifier for this node.
	ID() StageID

	// Bindings maps each local input name to the upstream port feeding it.
	Bindings() map[string]PortRef

	// Ports returns the output port names this node publishes.
	Ports() []string

	// Execute runs the node's logic.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout.
	//   in - Bound input values keyed by local input name.
	//
	// Outputs:
	//   Outputs - One value per declared port.
	//   error - Non-nil on failure.
	Execute(ctx context.Context, in Inputs) (Outputs, error)

	// Timeout returns the maximum execution time for this node.
	// Zero means the executor default.
	Timeout() time.Duration
}

// NodeStatus represents the execution status of a node.
type NodeStatus string

const (
	// NodeStatusPending indicates the node hasn't started.
	NodeStatusPending NodeStatus = "pending"

	// NodeStatusRunning indicates the node is executing.
	NodeStatusRunning NodeStatus = "running"

	// NodeStatusCompleted indicates successful completion.
	NodeStatusCompleted NodeStatus = "completed"

	// NodeStatusFailed indicates the node failed.
	NodeStatusFailed NodeStatus = "failed"
)

// Edge represents a port connection between nodes.
type Edge struct {
	// From is the upstream port.
	From PortRef `json:"from"`

	// To is the dependent node name.
	To string `json:"to"`

	// Input is the local input name on To.
	Input string `json:"input"`
}

// DAG represents the complete pipeline graph.
//
// Description:
//
//	DAG holds the nodes and their port connections. It must be built
//	using a Builder before execution.
//
// Thread Safety:
//
//	DAG is safe for concurrent read access after building. Do not modify
//	after calling Build().
type DAG struct {
	name     string
	nodes    map[string]Node
	names    []string // sorted
	edges    []Edge
	adjList  map[string][]string // node → upstream nodes
	terminal string
}

// Name returns the DAG's name.
func (d *DAG) Name() string {
	return d.name
}

// GetNode returns a node by name.
func (d *DAG) GetNode(name string) (Node, bool) {
	node, ok := d.nodes[name]
	return node, ok
}

// NodeCount returns the number of nodes.
func (d *DAG) NodeCount() int {
	return len(d.nodes)
}

// NodeNames returns all node names in sorted order.
func (d *DAG) NodeNames() []string {
	return append([]string(nil), d.names...)
}

// Edges returns every port connection.
func (d *DAG) Edges() []Edge {
	return append([]Edge(nil), d.edges...)
}

// GetDependencies returns the upstream node names for a node.
func (d *DAG) GetDependencies(nodeName string) []string {
	return d.adjList[nodeName]
}

// Terminal returns the terminal (final) node name.
func (d *DAG) Terminal() string {
	return d.terminal
}

// State represents the current execution state.
//
// Description:
//
//	State tracks which nodes have completed, their outputs, and any
//	failures. It is updated by the Executor during a run.
//
// Thread Safety:
//
//	State uses internal locking and is safe for concurrent access.
type State struct {
	mu sync.RWMutex

	// SessionID is the unique identifier for this execution.
	SessionID string `json:"session_id"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`

	completed map[string]bool
	outputs   map[string]Outputs
	statuses  map[string]NodeStatus

	// FailedNode is the name of the node that caused failure (if any).
	FailedNode string `json:"failed_node,omitempty"`

	// Error is the error message if failed.
	Error string `json:"error,omitempty"`
}

// NewState creates a new execution state.
func NewState(sessionID string) *State {
	return &State{
		SessionID: sessionID,
		StartedAt: time.Now(),
		completed: make(map[string]bool),
		outputs:   make(map[string]Outputs),
		statuses:  make(map[string]NodeStatus),
	}
}

// IsCompleted checks if a node has completed successfully.
func (s *State) IsCompleted(nodeName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed[nodeName]
}

// SetCompleted marks a node as completed with its outputs.
func (s *State) SetCompleted(nodeName string, out Outputs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[nodeName] = true
	s.outputs[nodeName] = out
	s.statuses[nodeName] = NodeStatusCompleted
}

// GetPort returns one published value.
func (s *State) GetPort(ref PortRef) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[ref.Stage.String()]
	if !ok {
		return nil, false
	}
	v, ok := out[ref.Port]
	return v, ok
}

// SetFailed marks a node and the execution as failed. The first failure
// wins.
func (s *State) SetFailed(nodeName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[nodeName] = NodeStatusFailed
	if s.FailedNode == "" {
		s.FailedNode = nodeName
		s.Error = err.Error()
	}
}

// IsFailed returns whether execution has failed.
func (s *State) IsFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FailedNode != ""
}

// SetStatus sets the status of a node.
func (s *State) SetStatus(nodeName string, status NodeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[nodeName] = status
}

// GetStatus returns the status of a node.
func (s *State) GetStatus(nodeName string) NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[nodeName]
	if !ok {
		return NodeStatusPending
	}
	return status
}

// IsDAGComplete checks if all nodes in the DAG have completed.
func (s *State) IsDAGComplete(dag *DAG) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range dag.names {
		if !s.completed[name] {
			return false
		}
	}
	return true
}

// CompletedCount returns the number of completed nodes.
func (s *State) CompletedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completed)
}

// snapshot copies the published outputs.
func (s *State) snapshot() map[string]Outputs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Outputs, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// Result represents the outcome of a DAG execution.
type Result struct {
	// Success indicates if the DAG completed successfully.
	Success bool `json:"success"`

	// SessionID is the execution session ID.
	SessionID string `json:"session_id"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`

	// NodesExecuted is the count of nodes that completed.
	NodesExecuted int `json:"nodes_executed"`

	// Error is the error message (if failed).
	Error string `json:"error,omitempty"`

	// FailedNode is the node that caused failure.
	FailedNode string `json:"failed_node,omitempty"`

	// NodeDurations tracks execution time per node.
	NodeDurations map[string]time.Duration `json:"node_durations,omitempty"`

	outputs map[string]Outputs
}

// Port returns a published value from any completed stage.
func (r *Result) Port(ref PortRef) (any, bool) {
	out, ok := r.outputs[ref.Stage.String()]
	if !ok {
		return nil, false
	}
	v, ok := out[ref.Port]
	return v, ok
}

// PortAs returns a published value as T.
func PortAs[T any](r *Result, ref PortRef) (T, error) {
	var zero T
	v, ok := r.Port(ref)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrPortNotFound, ref)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, want %T", ErrInputType, ref, v, zero)
	}
	return t, nil
}

// CompletedStages returns the names of completed stages in sorted order.
func (r *Result) CompletedStages() []string {
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
