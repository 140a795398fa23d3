// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flagging

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineArray(t *testing.T, xs []float64, bad []int) *array.Array {
	t.Helper()
	pos := make([]array.Position, len(xs))
	for i, x := range xs {
		pos[i] = array.Position{x, 0, 0}
	}
	arr, err := array.New(pos, bad)
	require.NoError(t, err)
	return arr
}

func filled(stands int) *visibility.Tensor {
	v := visibility.NewTensor(1, stands)
	for i := range v.Data {
		v.Data[i] = complex(float64(i%7)+1, float64(i%3))
	}
	return v
}

func TestBadStands_SentinelPassesThrough(t *testing.T) {
	f := New(lineArray(t, make([]float64, 8), []int{5}), 50e6, DefaultThresholds(), nil)
	zeros := visibility.NewTensor(2, 8)

	got := f.BadStands(zeros)
	assert.True(t, got.IsZero())
	assert.NotSame(t, zeros, got)
}

func TestBadStands_ZeroesAntennaFive(t *testing.T) {
	f := New(lineArray(t, make([]float64, 8), []int{5}), 50e6, DefaultThresholds(), nil)
	in := filled(8)

	got := f.BadStands(in)
	for a := 0; a < 8; a++ {
		for b := 0; b < 8; b++ {
			if a == 5 || b == 5 {
				assert.Equal(t, visibility.Matrix2{}, got.Block(0, a, b), "pair %d-%d", a, b)
			} else {
				assert.Equal(t, in.Block(0, a, b), got.Block(0, a, b), "pair %d-%d", a, b)
			}
		}
	}
	assert.NotEqual(t, visibility.Matrix2{}, in.Block(0, 5, 1), "input must not be mutated")
}

func TestThresholdAgainstSelf(t *testing.T) {
	f := New(lineArray(t, make([]float64, 4), nil), 50e6, DefaultThresholds(), nil)
	data := visibility.NewTensor(1, 4)
	for a := 0; a < 4; a++ {
		for b := 0; b < 4; b++ {
			data.SetBlock(0, a, b, visibility.Matrix2{{1, 0.5}, {0.5, 1}})
		}
	}
	data.Set(0, 1, 0, 2, 0, 100)

	got, rep := f.ThresholdAgainstSelf(data)
	assert.Equal(t, Report{Flagger: NameSelf, Baselines: 1}, rep)
	assert.Equal(t, visibility.Matrix2{}, got.Block(0, 1, 2))
	assert.Equal(t, complex128(1), got.At(0, 2, 0, 1, 0))

	same, rep := f.ThresholdAgainstSelf(visibility.NewTensor(1, 4))
	assert.True(t, same.IsZero())
	assert.Zero(t, rep.Baselines)
}

func modelAndData(stands int) (*visibility.Tensor, *visibility.Tensor) {
	model := visibility.NewTensor(1, stands)
	for a := 0; a < stands; a++ {
		for b := 0; b < stands; b++ {
			v := complex(1+0.1*float64(a+b), 0.05*float64(a))
			model.Set(0, a, 0, b, 0, v)
			model.Set(0, a, 1, b, 1, v)
		}
	}
	data := model.Scale(3)
	data.Set(0, 2, 0, 3, 0, data.At(0, 2, 0, 3, 0)*1000)
	data.Set(0, 4, 1, 6, 1, data.At(0, 4, 1, 6, 1)*1e-7)
	return model, data
}

func TestThresholdAgainstModel_FlagsOutliers(t *testing.T) {
	f := New(lineArray(t, make([]float64, 8), nil), 50e6, DefaultThresholds(), nil)
	model, data := modelAndData(8)

	m1, d1, rep := f.ThresholdAgainstModel(model, data)
	assert.Equal(t, 2, rep.Baselines)
	assert.Equal(t, visibility.Matrix2{}, d1.Block(0, 2, 3))
	assert.Equal(t, visibility.Matrix2{}, m1.Block(0, 2, 3))
	assert.Equal(t, visibility.Matrix2{}, d1.Block(0, 4, 6))
	assert.Equal(t, data.Block(0, 1, 1), d1.Block(0, 1, 1), "data is returned un-normalized")
}

func TestThresholdAgainstModel_Idempotent(t *testing.T) {
	f := New(lineArray(t, make([]float64, 8), nil), 50e6, DefaultThresholds(), nil)
	model, data := modelAndData(8)

	m1, d1, _ := f.ThresholdAgainstModel(model, data)
	m2, d2, rep := f.ThresholdAgainstModel(m1, d1)

	assert.Zero(t, rep.Baselines)
	assert.Equal(t, m1, m2)
	assert.Equal(t, d1, d2)
}

// randomPair draws exponential amplitudes with uniform phases, so the
// ratio tails cross both thresholds and the medians move as baselines go.
func randomPair(rng *rand.Rand, stands int) (*visibility.Tensor, *visibility.Tensor) {
	model := visibility.NewTensor(1, stands)
	data := visibility.NewTensor(1, stands)
	draw := func() complex128 {
		return cmplx.Rect(rng.ExpFloat64(), 2*math.Pi*rng.Float64())
	}
	for a := 0; a < stands; a++ {
		for b := 0; b < stands; b++ {
			for p := 0; p < visibility.NPol; p++ {
				model.Set(0, a, p, b, p, draw())
				data.Set(0, a, p, b, p, draw())
			}
		}
	}
	return model, data
}

func TestThresholdAgainstModel_IdempotentOnRandomInput(t *testing.T) {
	f := New(lineArray(t, make([]float64, 6), nil), 50e6, DefaultThresholds(), nil)
	rng := rand.New(rand.NewPCG(7, 11))

	for trial := 0; trial < 200; trial++ {
		model, data := randomPair(rng, 6)
		if trial%3 == 0 {
			data.Set(0, 1, 0, 2, 0, data.At(0, 1, 0, 2, 0)*1e4)
			data.Set(0, 3, 1, 4, 1, data.At(0, 3, 1, 4, 1)*1e-6)
		}

		m1, d1, _ := f.ThresholdAgainstModel(model, data)
		m2, d2, rep := f.ThresholdAgainstModel(m1, d1)

		require.Zero(t, rep.Baselines, "trial %d", trial)
		require.Equal(t, m1, m2, "trial %d", trial)
		require.Equal(t, d1, d2, "trial %d", trial)
	}
}

func TestThresholdAgainstModel_ReportCountsEveryPass(t *testing.T) {
	f := New(lineArray(t, make([]float64, 6), nil), 50e6, DefaultThresholds(), nil)
	rng := rand.New(rand.NewPCG(3, 5))

	for trial := 0; trial < 50; trial++ {
		model, data := randomPair(rng, 6)
		m, d, rep := f.ThresholdAgainstModel(model, data)
		assert.Equal(t, rep.Baselines, zeroBaselines(d)-zeroBaselines(data), "trial %d", trial)
		assert.Equal(t, zeroBaselines(m), zeroBaselines(d), "trial %d", trial)
	}
}

func zeroBaselines(v *visibility.Tensor) int {
	n := 0
	for a := 0; a < v.Stands; a++ {
		for b := 0; b < v.Stands; b++ {
			if v.Block(0, a, b) == (visibility.Matrix2{}) {
				n++
			}
		}
	}
	return n
}

func TestThresholdAgainstModel_ZeroModel(t *testing.T) {
	f := New(lineArray(t, make([]float64, 3), nil), 50e6, DefaultThresholds(), nil)
	data := filled(3)

	m, d, rep := f.ThresholdAgainstModel(visibility.NewTensor(1, 3), data)
	assert.True(t, m.IsZero())
	assert.Equal(t, data, d)
	assert.Zero(t, rep.Baselines)
}

func TestLengthFlag(t *testing.T) {
	// One meter wavelength makes the limit ten meters.
	f := New(lineArray(t, []float64{0, 5, 20}, nil), array.SpeedOfLight, DefaultThresholds(), nil)
	model, data := filled(3), filled(3)

	m, d, rep := f.LengthFlag(model, data)
	assert.Equal(t, 5, rep.Baselines)
	for _, pair := range [][2]int{{0, 0}, {1, 1}, {2, 2}, {0, 1}, {1, 0}} {
		assert.Equal(t, visibility.Matrix2{}, m.Block(0, pair[0], pair[1]))
		assert.Equal(t, visibility.Matrix2{}, d.Block(0, pair[0], pair[1]))
	}
	assert.Equal(t, data.Block(0, 0, 2), d.Block(0, 0, 2))
	assert.Equal(t, model.Block(0, 2, 1), m.Block(0, 2, 1))
}

func TestNormalizeMedian(t *testing.T) {
	data := visibility.NewTensor(1, 2)
	data.Set(0, 0, 0, 0, 0, 2)
	data.Set(0, 0, 0, 1, 0, 4)
	data.Set(0, 1, 0, 0, 0, 6)
	data.Set(0, 1, 1, 1, 1, 8)

	got := NormalizeMedian(data)
	assert.Equal(t, complex128(0.5), got.At(0, 0, 0, 0, 0))
	assert.Equal(t, complex128(2), got.At(0, 1, 1, 1, 1))

	assert.True(t, NormalizeMedian(visibility.NewTensor(1, 2)).IsZero())
}

func TestNonzeroMedian(t *testing.T) {
	m, ok := NonzeroMedian([]float64{0, 3, 1, 0, 2})
	require.True(t, ok)
	assert.Equal(t, 2.0, m)

	m, ok = NonzeroMedian([]float64{4, 1, 0, 3, 2})
	require.True(t, ok)
	assert.Equal(t, 2.5, m)

	_, ok = NonzeroMedian([]float64{0, 0})
	assert.False(t, ok)
}
