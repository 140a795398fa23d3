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

// UV holds per-pair (u, v) sampling coordinates in wavelengths.
type UV struct {
	Stands int
	U      []float64
	V      []float64
}

// NewUV allocates zero coordinates for stands antennas.
func NewUV(stands int) *UV {
	return &UV{
		Stands: stands,
		U:      make([]float64, stands*stands),
		V:      make([]float64, stands*stands),
	}
}

// At returns (u, v) for the pair (a, b).
func (uv *UV) At(a, b int) (float64, float64) {
	k := a*uv.Stands + b
	return uv.U[k], uv.V[k]
}

// Set stores (u, v) for the pair (a, b).
func (uv *UV) Set(a, b int, u, v float64) {
	k := a*uv.Stands + b
	uv.U[k], uv.V[k] = u, v
}
