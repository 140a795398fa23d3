// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package skymodel predicts model visibilities for a set of sources.
package skymodel

import (
	"context"
	"errors"
	"math"
	"math/cmplx"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/ephem"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// ErrNoSources is returned when Generate is called with an empty source set.
var ErrNoSources = errors.New("no sources to model")

// Output is a predicted model with the UV sampling it was computed at.
type Output struct {
	Model *visibility.Tensor
	UV    *visibility.UV
}

// Generator predicts model visibilities.
type Generator interface {
	Generate(ctx context.Context, sources []catalog.Source) (Output, error)
}

// PointSource models every source as an unpolarized point.
//
// Description:
//
//	For each antenna pair (a, b) the baseline a−b is expressed in
//	wavelengths as (u, v, w) on the local east/north/up axes and
//
//	  V_ab = Σ_s S_s(f) · exp(−2πi(u·l_s + v·m_s + w·n_s))
//
//	where (l, m, n) are the source direction cosines. XX and YY carry V;
//	the cross polarizations are zero. Sources below the horizon
//	contribute nothing.
//
// Thread Safety:
//
//	Safe for concurrent use.
type PointSource struct {
	Array     *array.Array
	Observer  ephem.Observer
	Frequency float64

	// Times is the number of time steps in the model. Zero means one.
	Times int
}

// Generate implements Generator.
func (p PointSource) Generate(ctx context.Context, sources []catalog.Source) (Output, error) {
	if len(sources) == 0 {
		return Output{}, ErrNoSources
	}
	times := p.Times
	if times < 1 {
		times = 1
	}
	n := p.Array.Stands()
	lambda := array.Wavelength(p.Frequency)

	type direction struct {
		flux    float64
		l, m, n float64
	}
	dirs := make([]direction, 0, len(sources))
	for _, s := range sources {
		ra, dec := s.Coordinates()
		pos := p.Observer.Locate(ra, dec)
		if !pos.AboveHorizon() {
			continue
		}
		dirs = append(dirs, direction{flux: s.FluxAt(p.Frequency), l: pos.L, m: pos.M, n: pos.N})
	}

	model := visibility.NewTensor(times, n)
	uv := visibility.NewUV(n)
	for a := 0; a < n; a++ {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		for b := 0; b < n; b++ {
			bl := p.Array.Baseline(a, b)
			u, v, w := bl[0]/lambda, bl[1]/lambda, bl[2]/lambda
			uv.Set(a, b, u, v)

			var vis complex128
			for _, d := range dirs {
				phase := -2 * math.Pi * (u*d.l + v*d.m + w*d.n)
				vis += complex(d.flux, 0) * cmplx.Exp(complex(0, phase))
			}
			for t := 0; t < times; t++ {
				model.Set(t, a, 0, b, 0, vis)
				model.Set(t, a, 1, b, 1, vis)
			}
		}
	}
	return Output{Model: model, UV: uv}, nil
}
