// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peel

import (
	"context"
	"fmt"
	"math/cmplx"
	"math/rand/v2"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/config"
	"github.com/AleutianAI/peelcal/services/peel/gain"
	"github.com/AleutianAI/peelcal/services/peel/skymodel"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// LoadArray reads the configured layout and marks the bad stands.
func LoadArray(cfg config.ArrayConfig) (*array.Array, error) {
	if cfg.Layout == "" {
		return nil, fmt.Errorf("%w: array.layout is not set", config.ErrInvalidConfig)
	}
	positions, err := array.LoadLayout(cfg.Layout)
	if err != nil {
		return nil, err
	}
	return array.New(positions, cfg.BadStands)
}

// LoadCandidates reads the configured catalog and returns the ranked peel
// candidates after selection.
func LoadCandidates(cfg config.CatalogConfig) ([]catalog.Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: catalog.path is not set", config.ErrInvalidConfig)
	}
	cat, err := catalog.Load(cfg.Path, cfg.Options)
	if err != nil {
		return nil, err
	}
	return catalog.Select(cat, cfg.Selection), nil
}

// GainJitter bounds the random gains used for simulation.
type GainJitter struct {
	// Amplitude is the largest fractional departure from unit gain.
	Amplitude float64

	// Phase is the largest phase offset in radians.
	Phase float64
}

// RandomGains returns diagonal Jones blocks with amplitude in
// [1-Amplitude, 1+Amplitude] and phase in [-Phase, Phase]. The same seed
// gives the same gains.
func RandomGains(times, stands int, jitter GainJitter, seed uint64) *visibility.Jones {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	j := visibility.NewJones(times, stands)
	for t := 0; t < times; t++ {
		for a := 0; a < stands; a++ {
			var m visibility.Matrix2
			for p := 0; p < visibility.NPol; p++ {
				amp := 1 + jitter.Amplitude*(2*rng.Float64()-1)
				phase := jitter.Phase * (2*rng.Float64() - 1)
				m[p][p] = cmplx.Rect(amp, phase)
			}
			j.SetMatrix(t, a, m)
		}
	}
	return j
}

// Simulate predicts visibilities for sources and corrupts them with gains.
//
// Description:
//
//	The sky model is projected through the inverse of gains, so solving
//	the result against the same model recovers gains. Nil gains leave
//	the model uncorrupted apart from bad-stand flagging.
//
// Inputs:
//
//	ctx - Cancels model generation.
//	gen - Sky model generator.
//	arr - The array, supplying bad stands.
//	sources - Every source on the simulated sky.
//	gains - Per-antenna corruption. May be nil.
//
// Outputs:
//
//	*visibility.Tensor - Simulated raw visibilities.
//	error - Generator or shape errors.
func Simulate(ctx context.Context, gen skymodel.Generator, arr *array.Array, sources []catalog.Source, gains *visibility.Jones) (*visibility.Tensor, error) {
	out, err := gen.Generate(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("simulate sky: %w", err)
	}
	if gains == nil {
		gains = visibility.NewIdentityJones(1, arr.Stands())
	}
	vis, _, err := gain.ApplyInverseGains(out.Model, gains, arr)
	if err != nil {
		return nil, fmt.Errorf("simulate gains: %w", err)
	}
	return vis, nil
}
