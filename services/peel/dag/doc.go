// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag provides the typed stage graph the peeling pipeline runs on.
//
// The framework provides:
//   - Stages identified by a typed StageID (phase, ring, step) instead of
//     concatenated strings
//   - Named output ports per stage, with inputs bound to (stage, port)
//     references that are checked when the graph is built
//   - Cycle detection
//   - Parallel execution of every stage whose inputs are ready
//   - Per-stage timeouts and unified tracing via OpenTelemetry
//
// # Thread Safety
//
// A built DAG is read-only. Executor is safe for concurrent use; each Run
// has its own State.
//
// # Example
//
//	load := dag.NewFuncNode(dag.StageID{Phase: "setup", Ring: dag.NoRing, Step: "load"},
//	    nil, []string{"vis"}, loadFn)
//	flag := dag.NewFuncNode(dag.StageID{Phase: "setup", Ring: dag.NoRing, Step: "flag"},
//	    map[string]dag.PortRef{"in": {Stage: load.ID(), Port: "vis"}},
//	    []string{"clean"}, flagFn)
//
//	graph, err := dag.NewBuilder("peel").AddNode(load).AddNode(flag).Build()
//	executor, err := dag.NewExecutor(graph, logger)
//	result, err := executor.Run(ctx)
package dag
