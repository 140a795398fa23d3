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
	"errors"
	"fmt"
)

// Sentinel errors for the dag package.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilNode is returned when a nil node is provided.
	ErrNilNode = errors.New("node must not be nil")

	// ErrDuplicateNode is returned when adding a node with an existing id.
	ErrDuplicateNode = errors.New("node with this id already exists")

	// ErrNodeNotFound is returned when a binding references an unknown stage.
	ErrNodeNotFound = errors.New("node not found")

	// ErrPortNotFound is returned when a binding references an undeclared port.
	ErrPortNotFound = errors.New("output port not declared")

	// ErrDuplicatePort is returned when a stage declares a port twice.
	ErrDuplicatePort = errors.New("output port declared twice")

	// ErrCycleDetected is returned when the DAG contains a cycle.
	ErrCycleDetected = errors.New("cycle detected in DAG")

	// ErrNoProgress is returned when no nodes can make progress (deadlock).
	ErrNoProgress = errors.New("no progress possible: deadlock or missing dependency")

	// ErrNodeTimeout is returned when a node exceeds its timeout.
	ErrNodeTimeout = errors.New("node execution timed out")

	// ErrMissingOutput is returned when a stage does not publish a declared port.
	ErrMissingOutput = errors.New("stage did not publish a declared output")

	// ErrMissingInput is returned when a stage reads an unbound input.
	ErrMissingInput = errors.New("input not bound")

	// ErrInputType is returned when an input has an unexpected type.
	ErrInputType = errors.New("input has unexpected type")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// NodeError wraps an error with the node that caused it.
type NodeError struct {
	NodeName string
	Err      error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeName, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a NodeError.
func NewNodeError(nodeName string, err error) *NodeError {
	return &NodeError{
		NodeName: nodeName,
		Err:      err,
	}
}

// CycleError provides details about a detected cycle.
type CycleError struct {
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %v", e.Path)
}

// Unwrap lets errors.Is match ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// NewCycleError creates a CycleError.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}
