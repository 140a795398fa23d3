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

import "math/cmplx"

// Matrix2 is a 2x2 complex matrix indexed [row][col].
type Matrix2 [2][2]complex128

// Identity2 returns the 2x2 identity.
func Identity2() Matrix2 {
	return Matrix2{{1, 0}, {0, 1}}
}

// Mul returns m·o.
func (m Matrix2) Mul(o Matrix2) Matrix2 {
	return Matrix2{
		{m[0][0]*o[0][0] + m[0][1]*o[1][0], m[0][0]*o[0][1] + m[0][1]*o[1][1]},
		{m[1][0]*o[0][0] + m[1][1]*o[1][0], m[1][0]*o[0][1] + m[1][1]*o[1][1]},
	}
}

// Add returns m+o.
func (m Matrix2) Add(o Matrix2) Matrix2 {
	return Matrix2{
		{m[0][0] + o[0][0], m[0][1] + o[0][1]},
		{m[1][0] + o[1][0], m[1][1] + o[1][1]},
	}
}

// Sub returns m-o.
func (m Matrix2) Sub(o Matrix2) Matrix2 {
	return Matrix2{
		{m[0][0] - o[0][0], m[0][1] - o[0][1]},
		{m[1][0] - o[1][0], m[1][1] - o[1][1]},
	}
}

// Scale returns m*f.
func (m Matrix2) Scale(f complex128) Matrix2 {
	return Matrix2{
		{m[0][0] * f, m[0][1] * f},
		{m[1][0] * f, m[1][1] * f},
	}
}

// ConjTranspose returns the Hermitian conjugate mᴴ.
func (m Matrix2) ConjTranspose() Matrix2 {
	return Matrix2{
		{cmplx.Conj(m[0][0]), cmplx.Conj(m[1][0])},
		{cmplx.Conj(m[0][1]), cmplx.Conj(m[1][1])},
	}
}

// Det returns the determinant.
func (m Matrix2) Det() complex128 {
	return m[0][0]*m[1][1] - m[0][1]*m[1][0]
}

// Inverse returns m⁻¹. A singular matrix yields the zero matrix and false.
func (m Matrix2) Inverse() (Matrix2, bool) {
	det := m.Det()
	if det == 0 || !isFinite(det) {
		return Matrix2{}, false
	}
	return Matrix2{
		{m[1][1] / det, -m[0][1] / det},
		{-m[1][0] / det, m[0][0] / det},
	}, true
}

// FrobeniusSq returns the squared Frobenius norm.
func (m Matrix2) FrobeniusSq() float64 {
	var s float64
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			a := cmplx.Abs(m[r][c])
			s += a * a
		}
	}
	return s
}

// Sandwich returns aᴴ·m·b, the congruence used to apply gains to a block.
func Sandwich(a, m, b Matrix2) Matrix2 {
	return a.ConjTranspose().Mul(m).Mul(b)
}
