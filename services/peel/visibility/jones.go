// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visibility

import (
	"fmt"
	"math/cmplx"
)

// Jones is a per-antenna gain array of shape (Times, 2, Stands, 2).
type Jones struct {
	Times  int
	Stands int
	Data   []complex128
}

// NewJones allocates a zero Jones array.
func NewJones(times, stands int) *Jones {
	return &Jones{
		Times:  times,
		Stands: stands,
		Data:   make([]complex128, times*NPol*stands*NPol),
	}
}

// NewIdentityJones allocates a Jones array whose every antenna block is the
// identity: unit diagonal, zero cross terms.
func NewIdentityJones(times, stands int) *Jones {
	j := NewJones(times, stands)
	for t := 0; t < times; t++ {
		for a := 0; a < stands; a++ {
			j.SetMatrix(t, a, Identity2())
		}
	}
	return j
}

func (j *Jones) index(t, pin, a, pout int) int {
	return ((t*NPol+pin)*j.Stands+a)*NPol + pout
}

// At returns the entry at (t, pin, a, pout).
func (j *Jones) At(t, pin, a, pout int) complex128 {
	return j.Data[j.index(t, pin, a, pout)]
}

// Set stores v at (t, pin, a, pout).
func (j *Jones) Set(t, pin, a, pout int, v complex128) {
	j.Data[j.index(t, pin, a, pout)] = v
}

// Matrix returns antenna a's 2x2 block with rows pin and columns pout.
func (j *Jones) Matrix(t, a int) Matrix2 {
	var m Matrix2
	for pin := 0; pin < NPol; pin++ {
		for pout := 0; pout < NPol; pout++ {
			m[pin][pout] = j.At(t, pin, a, pout)
		}
	}
	return m
}

// SetMatrix overwrites antenna a's 2x2 block.
func (j *Jones) SetMatrix(t, a int, m Matrix2) {
	for pin := 0; pin < NPol; pin++ {
		for pout := 0; pout < NPol; pout++ {
			j.Set(t, pin, a, pout, m[pin][pout])
		}
	}
}

// Clone returns a deep copy.
func (j *Jones) Clone() *Jones {
	out := &Jones{Times: j.Times, Stands: j.Stands, Data: make([]complex128, len(j.Data))}
	copy(out.Data, j.Data)
	return out
}

// Inverse returns the per-antenna inverse of j. Antennas whose block is
// singular receive the zero matrix; their indices are returned in
// singular, once per time step they are singular in.
func (j *Jones) Inverse() (inv *Jones, singular []int) {
	inv = NewJones(j.Times, j.Stands)
	for t := 0; t < j.Times; t++ {
		for a := 0; a < j.Stands; a++ {
			m, ok := j.Matrix(t, a).Inverse()
			if !ok {
				singular = append(singular, a)
			}
			inv.SetMatrix(t, a, m)
		}
	}
	return inv, singular
}

// Compatible reports whether j can be applied to the tensor v.
func (j *Jones) Compatible(v *Tensor) bool {
	return v != nil && j.Stands == v.Stands && (j.Times == v.Times || j.Times == 1)
}

// timeFor maps a tensor time step onto this array. A single-time Jones
// array applies to every time step.
func (j *Jones) timeFor(t int) int {
	if j.Times == 1 {
		return 0
	}
	return t
}

// MatrixFor returns antenna a's block for tensor time step t.
func (j *Jones) MatrixFor(t, a int) Matrix2 {
	return j.Matrix(j.timeFor(t), a)
}

// ApproxEqual reports whether every entry of j and o differs by at most tol.
func (j *Jones) ApproxEqual(o *Jones, tol float64) bool {
	if o == nil || j.Times != o.Times || j.Stands != o.Stands {
		return false
	}
	for i := range j.Data {
		if cmplx.Abs(j.Data[i]-o.Data[i]) > tol {
			return false
		}
	}
	return true
}

// Average returns the elementwise mean of the given Jones arrays.
func Average(arrays ...*Jones) (*Jones, error) {
	if len(arrays) == 0 {
		return nil, ErrEmptyAverage
	}
	first := arrays[0]
	if first == nil {
		return nil, fmt.Errorf("%w: jones 0 is nil", ErrShapeMismatch)
	}
	out := NewJones(first.Times, first.Stands)
	for i, arr := range arrays {
		if arr == nil {
			return nil, fmt.Errorf("%w: jones %d is nil", ErrShapeMismatch, i)
		}
		if arr.Times != first.Times || arr.Stands != first.Stands {
			return nil, fmt.Errorf("%w: jones %d does not match jones 0", ErrShapeMismatch, i)
		}
		for k, v := range arr.Data {
			out.Data[k] += v
		}
	}
	n := complex(float64(len(arrays)), 0)
	for k := range out.Data {
		out.Data[k] /= n
	}
	return out, nil
}
