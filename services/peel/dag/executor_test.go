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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupID(step string) StageID {
	return StageID{Phase: PhaseSetup, Ring: NoRing, Step: step}
}

func constNode(id StageID, port string, v any) *FuncNode {
	return NewFuncNode(id, nil, []string{port}, func(context.Context, Inputs) (Outputs, error) {
		return Outputs{port: v}, nil
	})
}

func TestStageID_String(t *testing.T) {
	assert.Equal(t, "setup/load", setupID("load").String())
	assert.Equal(t, "peel/0003/solve", StageID{Phase: PhasePeel, Ring: 3, Step: "solve"}.String())
	assert.NotEqual(t,
		StageID{Phase: PhasePeel, Ring: 1, Step: "solve"}.String(),
		StageID{Phase: PhasePeel, Ring: 11, Step: "solve"}.String(),
	)
	ref := PortRef{Stage: setupID("load"), Port: "vis"}
	assert.Equal(t, "setup/load:vis", ref.String())
}

func TestInput(t *testing.T) {
	in := Inputs{"n": 3}

	n, err := Input[int](in, "n")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = Input[string](in, "n")
	assert.ErrorIs(t, err, ErrInputType)

	_, err = Input[int](in, "missing")
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestBuilder_Errors(t *testing.T) {
	load := setupID("load")

	t.Run("empty", func(t *testing.T) {
		_, err := NewBuilder("x").Build()
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("nil node", func(t *testing.T) {
		_, err := NewBuilder("x").AddNode(nil).Build()
		assert.ErrorIs(t, err, ErrNilNode)
	})

	t.Run("duplicate node", func(t *testing.T) {
		_, err := NewBuilder("x").
			AddNode(constNode(load, "vis", 1)).
			AddNode(constNode(load, "vis", 2)).
			Build()
		assert.ErrorIs(t, err, ErrDuplicateNode)
	})

	t.Run("duplicate port", func(t *testing.T) {
		n := NewFuncNode(load, nil, []string{"vis", "vis"}, nil)
		_, err := NewBuilder("x").AddNode(n).Build()
		assert.ErrorIs(t, err, ErrDuplicatePort)
	})

	t.Run("missing upstream", func(t *testing.T) {
		n := NewFuncNode(setupID("flag"),
			map[string]PortRef{"in": {Stage: load, Port: "vis"}},
			[]string{"out"}, nil)
		_, err := NewBuilder("x").AddNode(n).Build()
		assert.ErrorIs(t, err, ErrNodeNotFound)

		var nodeErr *NodeError
		require.ErrorAs(t, err, &nodeErr)
		assert.Equal(t, "setup/flag", nodeErr.NodeName)
	})

	t.Run("undeclared port", func(t *testing.T) {
		n := NewFuncNode(setupID("flag"),
			map[string]PortRef{"in": {Stage: load, Port: "uv"}},
			[]string{"out"}, nil)
		_, err := NewBuilder("x").AddNode(constNode(load, "vis", 1)).AddNode(n).Build()
		assert.ErrorIs(t, err, ErrPortNotFound)
	})

	t.Run("cycle", func(t *testing.T) {
		a := NewFuncNode(setupID("a"),
			map[string]PortRef{"in": {Stage: setupID("b"), Port: "out"}},
			[]string{"out"}, nil)
		b := NewFuncNode(setupID("b"),
			map[string]PortRef{"in": {Stage: setupID("a"), Port: "out"}},
			[]string{"out"}, nil)
		_, err := NewBuilder("x").AddNode(a).AddNode(b).Build()
		assert.ErrorIs(t, err, ErrCycleDetected)

		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.GreaterOrEqual(t, len(cycleErr.Path), 3)
	})
}

func TestBuilder_Structure(t *testing.T) {
	load := constNode(setupID("load"), "vis", 1)
	double := NewFuncNode(setupID("double"),
		map[string]PortRef{"x": {Stage: load.ID(), Port: "vis"}},
		[]string{"y"}, nil)

	d, err := NewBuilder("chain").AddNode(load).AddNode(double).Build()
	require.NoError(t, err)

	assert.Equal(t, "chain", d.Name())
	assert.Equal(t, 2, d.NodeCount())
	assert.Equal(t, []string{"setup/double", "setup/load"}, d.NodeNames())
	assert.Equal(t, []string{"setup/load"}, d.GetDependencies("setup/double"))
	assert.Empty(t, d.GetDependencies("setup/load"))
	assert.Equal(t, "setup/double", d.Terminal())
	require.Len(t, d.Edges(), 1)
	assert.Equal(t, "x", d.Edges()[0].Input)
}

func TestExecutor_Chain(t *testing.T) {
	load := constNode(setupID("load"), "vis", 21)
	double := NewFuncNode(setupID("double"),
		map[string]PortRef{"x": {Stage: load.ID(), Port: "vis"}},
		[]string{"y"},
		func(_ context.Context, in Inputs) (Outputs, error) {
			x, err := Input[int](in, "x")
			if err != nil {
				return nil, err
			}
			return Outputs{"y": 2 * x}, nil
		})

	d, err := NewBuilder("chain").AddNode(load).AddNode(double).Build()
	require.NoError(t, err)

	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.NodesExecuted)
	assert.Len(t, result.SessionID, 12)
	assert.Contains(t, result.NodeDurations, "setup/double")
	assert.Equal(t, []string{"setup/double", "setup/load"}, result.CompletedStages())

	y, err := PortAs[int](result, PortRef{Stage: double.ID(), Port: "y"})
	require.NoError(t, err)
	assert.Equal(t, 42, y)

	_, err = PortAs[string](result, PortRef{Stage: double.ID(), Port: "y"})
	assert.ErrorIs(t, err, ErrInputType)

	_, err = PortAs[int](result, PortRef{Stage: double.ID(), Port: "z"})
	assert.ErrorIs(t, err, ErrPortNotFound)
}

func TestExecutor_FanOutRunsInParallel(t *testing.T) {
	root := constNode(setupID("root"), "v", 1)

	const width = 4
	var running, peak int32
	var wg sync.WaitGroup
	wg.Add(width)

	b := NewBuilder("fan").AddNode(root)
	for i := 0; i < width; i++ {
		id := StageID{Phase: PhasePeel, Ring: i, Step: "solve"}
		b.AddNode(NewFuncNode(id,
			map[string]PortRef{"v": {Stage: root.ID(), Port: "v"}},
			[]string{"out"},
			func(ctx context.Context, in Inputs) (Outputs, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				wg.Done()
				// Every sibling must be running at once to get past here.
				done := make(chan struct{})
				go func() { wg.Wait(); close(done) }()
				select {
				case <-done:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				atomic.AddInt32(&running, -1)
				return Outputs{"out": id.Ring}, nil
			}).WithTimeout(5 * time.Second))
	}

	d, err := b.Build()
	require.NoError(t, err)

	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(width), atomic.LoadInt32(&peak))

	for i := 0; i < width; i++ {
		v, err := PortAs[int](result, PortRef{Stage: StageID{Phase: PhasePeel, Ring: i, Step: "solve"}, Port: "out"})
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestExecutor_NodeFailure(t *testing.T) {
	boom := errors.New("boom")
	load := constNode(setupID("load"), "vis", 1)
	fail := NewFuncNode(setupID("fail"),
		map[string]PortRef{"x": {Stage: load.ID(), Port: "vis"}},
		[]string{"y"},
		func(context.Context, Inputs) (Outputs, error) { return nil, boom })
	var ranAfter atomic.Bool
	after := NewFuncNode(setupID("zafter"),
		map[string]PortRef{"y": {Stage: fail.ID(), Port: "y"}},
		[]string{"z"},
		func(context.Context, Inputs) (Outputs, error) {
			ranAfter.Store(true)
			return Outputs{"z": 0}, nil
		})

	d, err := NewBuilder("fail").AddNode(load).AddNode(fail).AddNode(after).Build()
	require.NoError(t, err)

	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "setup/fail", nodeErr.NodeName)

	assert.False(t, result.Success)
	assert.Equal(t, "setup/fail", result.FailedNode)
	assert.Equal(t, 1, result.NodesExecuted)
	assert.False(t, ranAfter.Load())
}

func TestExecutor_MissingOutput(t *testing.T) {
	n := NewFuncNode(setupID("lazy"), nil, []string{"a", "b"},
		func(context.Context, Inputs) (Outputs, error) {
			return Outputs{"a": 1}, nil
		})
	d, err := NewBuilder("x").AddNode(n).Build()
	require.NoError(t, err)

	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	_, err = exec.Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingOutput)
}

func TestExecutor_Timeout(t *testing.T) {
	slow := NewFuncNode(setupID("slow"), nil, []string{"v"},
		func(ctx context.Context, _ Inputs) (Outputs, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).WithTimeout(20 * time.Millisecond)

	d, err := NewBuilder("x").AddNode(slow).Build()
	require.NoError(t, err)

	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background())
	assert.ErrorIs(t, err, ErrNodeTimeout)
	assert.Equal(t, "setup/slow", result.FailedNode)
}

func TestExecutor_DefaultTimeoutOption(t *testing.T) {
	slow := NewFuncNode(setupID("slow"), nil, []string{"v"},
		func(ctx context.Context, _ Inputs) (Outputs, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	d, err := NewBuilder("x").AddNode(slow).Build()
	require.NoError(t, err)

	exec, err := NewExecutor(d, nil, WithDefaultTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = exec.Run(context.Background())
	assert.ErrorIs(t, err, ErrNodeTimeout)
}

func TestExecutor_Cancellation(t *testing.T) {
	d, err := NewBuilder("x").AddNode(constNode(setupID("load"), "vis", 1)).Build()
	require.NoError(t, err)

	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := exec.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
	assert.Zero(t, result.NodesExecuted)
}

func TestExecutor_NilInputs(t *testing.T) {
	_, err := NewExecutor(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	d, err := NewBuilder("x").AddNode(constNode(setupID("load"), "vis", 1)).Build()
	require.NoError(t, err)
	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	//nolint:staticcheck // nil context is the case under test
	_, err = exec.Run(nil)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestBaseNode_ExecuteNotImplemented(t *testing.T) {
	n := &BaseNode{StageID: setupID("base")}
	_, err := n.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotNil(t, n.Bindings())
}
