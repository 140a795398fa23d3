// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gain

import (
	"context"
	"math"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// StEFCal is an alternating per-antenna least-squares solver.
//
// Description:
//
//	It minimizes Σ‖M_ij − J_iᴴ·D_ij·J_j‖² over antenna pairs, where D is
//	the data and M the model. Each iteration holds every other antenna
//	fixed and solves antenna j in closed form:
//
//	  A_i = J_iᴴ·D_ij
//	  J_j = (Σ_i A_iᴴA_i + λI)⁻¹ · Σ_i A_iᴴM_ij
//
//	Every second iteration the update is averaged with the previous
//	estimate. Iteration stops when the relative Frobenius change of the
//	whole array drops below Eps or after MaxIterations.
//
//	Autocorrelations and bad stands are excluded from every sum. Bad
//	stands, and stands whose normal matrix is singular, keep their prior.
//
//	When the prior has one time step and the data has several, one
//	solution is fitted to all time steps together. Otherwise each time
//	step is solved on its own.
//
// Thread Safety:
//
//	Safe for concurrent use; it holds no state.
type StEFCal struct{}

// Solve implements Solver.
func (StEFCal) Solve(ctx context.Context, req Request) (Response, error) {
	if req.Data == nil || req.Model == nil || req.Prior == nil {
		return Response{}, ErrInvalidInput
	}
	jones := req.Prior.Clone()
	if req.Data.IsZero() || req.Model.IsZero() {
		return Response{Data: req.Data.Clone(), Jones: jones, Converged: true}, nil
	}

	bad := func(i int) bool {
		return i < len(req.StandFlags) && req.StandFlags[i] == array.FlagBad
	}

	maxIter := req.MaxIterations
	if maxIter < 1 {
		maxIter = 1
	}

	var (
		iterations int
		converged  bool
	)
	for iterations = 1; iterations <= maxIter; iterations++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		next := jones.Clone()
		for tj := 0; tj < jones.Times; tj++ {
			times := dataTimes(req.Data.Times, jones.Times, tj)
			for j := 0; j < jones.Stands; j++ {
				if bad(j) {
					continue
				}
				var normal, rhs visibility.Matrix2
				for _, t := range times {
					for i := 0; i < jones.Stands; i++ {
						if i == j || bad(i) {
							continue
						}
						a := jones.Matrix(tj, i).ConjTranspose().Mul(req.Data.Block(t, i, j))
						ah := a.ConjTranspose()
						normal = normal.Add(ah.Mul(a))
						rhs = rhs.Add(ah.Mul(req.Model.Block(t, i, j)))
					}
				}
				normal = normal.Add(visibility.Identity2().Scale(complex(req.L2Reg, 0)))
				inv, ok := normal.Inverse()
				if !ok {
					continue
				}
				update := inv.Mul(rhs)
				if iterations%2 == 0 {
					update = update.Add(jones.Matrix(tj, j)).Scale(0.5)
				}
				next.SetMatrix(tj, j, update)
			}
		}
		change := relativeChange(jones, next)
		jones = next
		if change < req.Eps {
			converged = true
			break
		}
	}
	if iterations > maxIter {
		iterations = maxIter
	}

	return Response{
		Data:       residual(req.Data, req.Model, jones),
		Jones:      jones,
		Iterations: iterations,
		Converged:  converged,
	}, nil
}

// dataTimes lists the data time steps that inform Jones time step tj.
func dataTimes(dataTimes, jonesTimes, tj int) []int {
	if jonesTimes == dataTimes {
		return []int{tj}
	}
	out := make([]int, dataTimes)
	for t := range out {
		out[t] = t
	}
	return out
}

func relativeChange(prev, next *visibility.Jones) float64 {
	var diff, norm float64
	for k := range next.Data {
		d := next.Data[k] - prev.Data[k]
		diff += real(d)*real(d) + imag(d)*imag(d)
		v := next.Data[k]
		norm += real(v)*real(v) + imag(v)*imag(v)
	}
	if norm == 0 {
		return 0
	}
	return math.Sqrt(diff / norm)
}

// residual returns M − Jᴴ·D·J for every pair.
func residual(data, model *visibility.Tensor, jones *visibility.Jones) *visibility.Tensor {
	out := visibility.ZerosLike(data)
	for t := 0; t < data.Times; t++ {
		for i := 0; i < data.Stands; i++ {
			ji := jones.MatrixFor(t, i)
			for j := 0; j < data.Stands; j++ {
				fit := visibility.Sandwich(ji, data.Block(t, i, j), jones.MatrixFor(t, j))
				out.SetBlock(t, i, j, model.Block(t, i, j).Sub(fit))
			}
		}
	}
	return out
}
