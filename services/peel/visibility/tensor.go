// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package visibility holds the numeric data model shared by every peeling
// stage: visibility tensors, per-antenna Jones arrays and 2x2 complex
// matrix helpers.
//
// # Layout
//
// A Tensor is indexed by (time, antenna A, polarization A, antenna B,
// polarization B). Each antenna pair therefore owns a 2x2 polarization
// block. A Jones array is indexed by (time, polarization in, antenna,
// polarization out).
//
// # Sentinel
//
// An all-zero Tensor means "no usable data". Transforms in the flagging
// and gain packages detect it with IsZero and pass it through unchanged.
//
// # Thread Safety
//
// Tensors and Jones arrays are plain values with no internal locking.
// Pipeline stages never mutate their inputs; they Clone before writing.
package visibility

import (
	"fmt"
	"math"
	"math/cmplx"
)

// NPol is the number of polarizations per antenna.
const NPol = 2

// Tensor is a complex visibility tensor of shape (Times, Stands, 2, Stands, 2).
type Tensor struct {
	Times  int
	Stands int
	Data   []complex128
}

// NewTensor allocates a zero-valued tensor.
func NewTensor(times, stands int) *Tensor {
	return &Tensor{
		Times:  times,
		Stands: stands,
		Data:   make([]complex128, times*stands*NPol*stands*NPol),
	}
}

// ZerosLike allocates a zero tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	return NewTensor(t.Times, t.Stands)
}

func (t *Tensor) index(time, a, pa, b, pb int) int {
	return (((time*t.Stands+a)*NPol+pa)*t.Stands+b)*NPol + pb
}

// At returns the entry at (time, a, pa, b, pb).
func (t *Tensor) At(time, a, pa, b, pb int) complex128 {
	return t.Data[t.index(time, a, pa, b, pb)]
}

// Set stores v at (time, a, pa, b, pb).
func (t *Tensor) Set(time, a, pa, b, pb int, v complex128) {
	t.Data[t.index(time, a, pa, b, pb)] = v
}

// Block returns the 2x2 polarization block for the pair (a, b).
func (t *Tensor) Block(time, a, b int) Matrix2 {
	var m Matrix2
	for pa := 0; pa < NPol; pa++ {
		for pb := 0; pb < NPol; pb++ {
			m[pa][pb] = t.At(time, a, pa, b, pb)
		}
	}
	return m
}

// SetBlock overwrites the 2x2 polarization block for the pair (a, b).
func (t *Tensor) SetBlock(time, a, b int, m Matrix2) {
	for pa := 0; pa < NPol; pa++ {
		for pb := 0; pb < NPol; pb++ {
			t.Set(time, a, pa, b, pb, m[pa][pb])
		}
	}
}

// ZeroPair zeroes all four polarization products of the pair (a, b) at time.
func (t *Tensor) ZeroPair(time, a, b int) {
	t.SetBlock(time, a, b, Matrix2{})
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{Times: t.Times, Stands: t.Stands, Data: make([]complex128, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// IsZero reports whether every entry is exactly zero.
func (t *Tensor) IsZero() bool {
	for _, v := range t.Data {
		if v != 0 {
			return false
		}
	}
	return true
}

// MaxAbs returns the largest entry amplitude.
func (t *Tensor) MaxAbs() float64 {
	var m float64
	for _, v := range t.Data {
		if a := cmplx.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// SameShape reports whether o has the same dimensions as t.
func (t *Tensor) SameShape(o *Tensor) bool {
	return o != nil && t.Times == o.Times && t.Stands == o.Stands
}

// Add returns t + o as a new tensor.
func (t *Tensor) Add(o *Tensor) (*Tensor, error) {
	if !t.SameShape(o) {
		return nil, fmt.Errorf("%w: add %s and %s", ErrShapeMismatch, t.Shape(), o.Shape())
	}
	out := t.Clone()
	for i, v := range o.Data {
		out.Data[i] += v
	}
	return out, nil
}

// Sub returns t - o as a new tensor.
func (t *Tensor) Sub(o *Tensor) (*Tensor, error) {
	if !t.SameShape(o) {
		return nil, fmt.Errorf("%w: subtract %s and %s", ErrShapeMismatch, t.Shape(), o.Shape())
	}
	out := t.Clone()
	for i, v := range o.Data {
		out.Data[i] -= v
	}
	return out, nil
}

// Scale returns t * f as a new tensor.
func (t *Tensor) Scale(f complex128) *Tensor {
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] *= f
	}
	return out
}

// Shape renders the tensor dimensions for error messages.
func (t *Tensor) Shape() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("[%d %d %d %d %d]", t.Times, t.Stands, NPol, t.Stands, NPol)
}

// PolAmplitudes returns |t[:, a, p, b, p]| over every time and pair,
// flattened in (time, a, b) order.
func (t *Tensor) PolAmplitudes(p int) []float64 {
	out := make([]float64, 0, t.Times*t.Stands*t.Stands)
	for time := 0; time < t.Times; time++ {
		for a := 0; a < t.Stands; a++ {
			for b := 0; b < t.Stands; b++ {
				out = append(out, cmplx.Abs(t.At(time, a, p, b, p)))
			}
		}
	}
	return out
}

// ApproxEqual reports whether every entry of t and o differs by at most tol.
func (t *Tensor) ApproxEqual(o *Tensor, tol float64) bool {
	if !t.SameShape(o) {
		return false
	}
	for i := range t.Data {
		if cmplx.Abs(t.Data[i]-o.Data[i]) > tol {
			return false
		}
	}
	return true
}

// isFinite reports whether v has no NaN or Inf component.
func isFinite(v complex128) bool {
	return !math.IsNaN(real(v)) && !math.IsNaN(imag(v)) &&
		!math.IsInf(real(v), 0) && !math.IsInf(imag(v), 0)
}
