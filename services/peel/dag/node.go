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
	"time"
)

// DefaultNodeTimeout is the default timeout for nodes that don't specify one.
const DefaultNodeTimeout = 10 * time.Minute

// BaseNode provides a partial implementation of the Node interface.
//
// Description:
//
//	BaseNode implements the common parts of Node (id, bindings, ports,
//	timeout). Embed this in concrete node implementations and override
//	Execute.
type BaseNode struct {
	StageID       StageID
	InputBindings map[string]PortRef
	OutputPorts   []string
	NodeTimeout   time.Duration
}

// ID returns the node's unique identifier.
func (n *BaseNode) ID() StageID {
	return n.StageID
}

// Bindings returns the input bindings.
func (n *BaseNode) Bindings() map[string]PortRef {
	if n.InputBindings == nil {
		return map[string]PortRef{}
	}
	return n.InputBindings
}

// Ports returns the declared output ports.
func (n *BaseNode) Ports() []string {
	return n.OutputPorts
}

// Timeout returns the maximum execution time for this node.
func (n *BaseNode) Timeout() time.Duration {
	return n.NodeTimeout
}

// Execute returns an error if called directly.
// Concrete implementations must override this method.
func (n *BaseNode) Execute(_ context.Context, _ Inputs) (Outputs, error) {
	return nil, fmt.Errorf("%w: BaseNode.Execute must be overridden by concrete implementation", ErrInvalidInput)
}

// Builder constructs a DAG with validation.
//
// Description:
//
//	Builder provides a fluent API for constructing DAGs. It validates that
//	every binding names an existing stage and a port that stage declares,
//	and that no cycles are present.
//
// Thread Safety:
//
//	Builder is NOT safe for concurrent use. Build the DAG in a single goroutine.
type Builder struct {
	name   string
	nodes  map[string]Node
	edges  []Edge
	errors []error
}

// NewBuilder creates a new DAG builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		nodes:  make(map[string]Node),
		edges:  make([]Edge, 0),
		errors: make([]error, 0),
	}
}

// AddNode adds a node to the DAG.
//
// Description:
//
//	Adds a node and creates one edge per input binding. A duplicate id or
//	a duplicate output port is recorded and reported by Build.
func (b *Builder) AddNode(node Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, ErrNilNode)
		return b
	}

	name := node.ID().String()
	if _, exists := b.nodes[name]; exists {
		b.errors = append(b.errors, NewNodeError(name, ErrDuplicateNode))
		return b
	}

	seen := make(map[string]bool, len(node.Ports()))
	for _, p := range node.Ports() {
		if seen[p] {
			b.errors = append(b.errors, NewNodeError(name, fmt.Errorf("%w: %s", ErrDuplicatePort, p)))
			return b
		}
		seen[p] = true
	}

	b.nodes[name] = node

	inputs := make([]string, 0, len(node.Bindings()))
	for input := range node.Bindings() {
		inputs = append(inputs, input)
	}
	sort.Strings(inputs)
	for _, input := range inputs {
		b.edges = append(b.edges, Edge{From: node.Bindings()[input], To: name, Input: input})
	}

	return b
}

// Build validates and constructs the DAG.
func (b *Builder) Build() (*DAG, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	if len(b.nodes) == 0 {
		return nil, ErrInvalidInput
	}

	// Validate bindings point at declared ports.
	for _, edge := range b.edges {
		from := edge.From.Stage.String()
		upstream, exists := b.nodes[from]
		if !exists {
			return nil, NewNodeError(edge.To, fmt.Errorf("%w: %s", ErrNodeNotFound, from))
		}
		if !hasPort(upstream, edge.From.Port) {
			return nil, NewNodeError(edge.To, fmt.Errorf("%w: %s", ErrPortNotFound, edge.From))
		}
	}

	adjList := make(map[string][]string, len(b.nodes))
	for name := range b.nodes {
		adjList[name] = nil
	}
	for _, edge := range b.edges {
		from := edge.From.Stage.String()
		if !contains(adjList[edge.To], from) {
			adjList[edge.To] = append(adjList[edge.To], from)
		}
	}
	for name := range adjList {
		sort.Strings(adjList[name])
	}

	if err := b.detectCycles(adjList); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(b.nodes))
	for name := range b.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	return &DAG{
		name:     b.name,
		nodes:    b.nodes,
		names:    names,
		edges:    b.edges,
		adjList:  adjList,
		terminal: b.findTerminal(names),
	}, nil
}

// detectCycles uses DFS to detect cycles in the graph.
func (b *Builder) detectCycles(adjList map[string][]string) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(node string) error
	dfs = func(node string) error {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range adjList[node] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if recStack[dep] {
				cycleStart := 0
				for i, n := range path {
					if n == dep {
						cycleStart = i
						break
					}
				}
				cyclePath := append(append([]string(nil), path[cycleStart:]...), dep)
				return NewCycleError(cyclePath)
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
		return nil
	}

	names := make([]string, 0, len(adjList))
	for name := range adjList {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}

	return nil
}

// findTerminal returns the lexicographically first node nothing depends on.
func (b *Builder) findTerminal(names []string) string {
	hasDependent := make(map[string]bool)
	for _, edge := range b.edges {
		hasDependent[edge.From.Stage.String()] = true
	}
	for _, name := range names {
		if !hasDependent[name] {
			return name
		}
	}
	return ""
}

func hasPort(n Node, port string) bool {
	for _, p := range n.Ports() {
		if p == port {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FuncNode wraps a function as a Node.
type FuncNode struct {
	BaseNode
	fn func(context.Context, Inputs) (Outputs, error)
}

// NewFuncNode creates a node from a function.
//
// Inputs:
//
//	id - The stage id.
//	bindings - Local input name to upstream port.
//	ports - Output ports the function publishes.
//	fn - The function to execute.
func NewFuncNode(
	id StageID,
	bindings map[string]PortRef,
	ports []string,
	fn func(context.Context, Inputs) (Outputs, error),
) *FuncNode {
	return &FuncNode{
		BaseNode: BaseNode{
			StageID:       id,
			InputBindings: bindings,
			OutputPorts:   ports,
		},
		fn: fn,
	}
}

// Execute runs the wrapped function.
func (n *FuncNode) Execute(ctx context.Context, in Inputs) (Outputs, error) {
	if n.fn == nil {
		return nil, ErrInvalidInput
	}
	return n.fn(ctx, in)
}

// WithTimeout sets the timeout for a FuncNode.
func (n *FuncNode) WithTimeout(d time.Duration) *FuncNode {
	n.NodeTimeout = d
	return n
}
