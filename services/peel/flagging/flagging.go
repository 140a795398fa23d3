// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flagging nulls unreliable visibility and model entries.
//
// Every transform works on copies and never mutates its arguments. When
// the reference tensor is all-zero the transform returns copies of its
// inputs unchanged; an all-zero tensor means no data has arrived yet.
//
// A "baseline" here is one (time, antenna A, antenna B) triple. Flagging a
// baseline zeroes all four polarization products for it.
package flagging

import (
	"log/slog"
	"math/cmplx"
	"sort"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// Flagger names, used in reports, logs and metrics.
const (
	NameBadStands = "bad_stands"
	NameSelf      = "self"
	NameModel     = "model"
	NameLength    = "length"
)

// Thresholds are the flagging limits.
type Thresholds struct {
	// Self flags data above this multiple of its own median amplitude.
	Self float64 `yaml:"self" json:"self" validate:"gt=0"`

	// Upper flags data above this multiple of the normalized model.
	Upper float64 `yaml:"upper" json:"upper" validate:"gt=0"`

	// Lower flags data below this multiple of the normalized model.
	Lower float64 `yaml:"lower" json:"lower" validate:"gte=0"`

	// MinWavelengths flags baselines shorter than this many wavelengths.
	MinWavelengths float64 `yaml:"min_wavelengths" json:"min_wavelengths" validate:"gte=0"`
}

// DefaultThresholds returns the standard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Self:           10,
		Upper:          10,
		Lower:          1e-4,
		MinWavelengths: 10,
	}
}

// Report counts the baselines one call flagged.
type Report struct {
	Flagger   string `json:"flagger"`
	Baselines int    `json:"baselines"`
}

// Flagger applies the flagging rules for one array and frequency.
//
// Thread Safety:
//
//	Safe for concurrent use. The array is read-only and no state is kept
//	between calls.
type Flagger struct {
	arr        *array.Array
	frequency  float64
	thresholds Thresholds
	logger     *slog.Logger
}

// New creates a Flagger. A nil logger uses slog.Default().
func New(arr *array.Array, frequency float64, th Thresholds, logger *slog.Logger) *Flagger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flagger{arr: arr, frequency: frequency, thresholds: th, logger: logger}
}

// Thresholds returns the configured limits.
func (f *Flagger) Thresholds() Thresholds {
	return f.thresholds
}

// BadStands zeroes every entry with a bad antenna on either side.
func (f *Flagger) BadStands(vis *visibility.Tensor) *visibility.Tensor {
	out := vis.Clone()
	if vis.IsZero() {
		return out
	}
	for t := 0; t < out.Times; t++ {
		for _, bad := range f.arr.BadStands() {
			for other := 0; other < out.Stands; other++ {
				out.ZeroPair(t, bad, other)
				out.ZeroPair(t, other, bad)
			}
		}
	}
	return out
}

// ThresholdAgainstSelf flags baselines whose pol00 amplitude exceeds
// Thresholds.Self times the nonzero median pol00 amplitude.
func (f *Flagger) ThresholdAgainstSelf(data *visibility.Tensor) (*visibility.Tensor, Report) {
	rep := Report{Flagger: NameSelf}
	out := data.Clone()
	if data.IsZero() {
		return out, rep
	}
	median, ok := NonzeroMedian(data.PolAmplitudes(0))
	if !ok {
		return out, rep
	}
	f.eachBaseline(data, func(t, a, b int) {
		if cmplx.Abs(data.At(t, a, 0, b, 0))/median > f.thresholds.Self {
			out.ZeroPair(t, a, b)
			rep.Baselines++
		}
	})
	f.log(rep)
	return out, rep
}

// ThresholdAgainstModel normalizes model and data by their own nonzero
// median pol00 amplitudes and flags, in both, every baseline where the
// normalized data on pol00 or pol11 is above Upper or below Lower times
// the normalized model. The returned tensors are flagged copies of the
// un-normalized inputs.
//
// Flagging shifts the medians, so the pass repeats on the flagged copies
// until it flags nothing new. The result is a fixed point: calling
// ThresholdAgainstModel on its own output flags no further baselines.
// Every pass zeroes at least one baseline that still held data, so the
// loop ends.
func (f *Flagger) ThresholdAgainstModel(model, data *visibility.Tensor) (*visibility.Tensor, *visibility.Tensor, Report) {
	rep := Report{Flagger: NameModel}
	outModel, outData := model.Clone(), data.Clone()
	if model.IsZero() {
		return outModel, outData, rep
	}
	for {
		n := f.modelPass(outModel, outData)
		if n == 0 {
			break
		}
		rep.Baselines += n
	}
	f.log(rep)
	return outModel, outData, rep
}

// modelPass flags model and data in place against the medians they hold
// on entry and returns the number of baselines it flagged.
func (f *Flagger) modelPass(model, data *visibility.Tensor) int {
	medData, okData := NonzeroMedian(data.PolAmplitudes(0))
	medModel, okModel := NonzeroMedian(model.PolAmplitudes(0))
	if !okData || !okModel {
		return 0
	}
	upper, lower := f.thresholds.Upper, f.thresholds.Lower
	var flagged [][3]int
	f.eachBaseline(data, func(t, a, b int) {
		flag := false
		for p := 0; p < visibility.NPol && !flag; p++ {
			d := cmplx.Abs(data.At(t, a, p, b, p)) / medData
			m := cmplx.Abs(model.At(t, a, p, b, p)) / medModel
			flag = d > upper*m || d < lower*m
		}
		if flag {
			flagged = append(flagged, [3]int{t, a, b})
		}
	})
	for _, bl := range flagged {
		model.ZeroPair(bl[0], bl[1], bl[2])
		data.ZeroPair(bl[0], bl[1], bl[2])
	}
	return len(flagged)
}

// LengthFlag flags, in both model and data, every baseline shorter than
// MinWavelengths wavelengths at the operating frequency. Autocorrelations
// have zero length and are always flagged.
func (f *Flagger) LengthFlag(model, data *visibility.Tensor) (*visibility.Tensor, *visibility.Tensor, Report) {
	rep := Report{Flagger: NameLength}
	outModel, outData := model.Clone(), data.Clone()
	if model.IsZero() {
		return outModel, outData, rep
	}
	limit := f.thresholds.MinWavelengths * array.Wavelength(f.frequency)
	for a := 0; a < data.Stands; a++ {
		for b := 0; b < data.Stands; b++ {
			if f.arr.BaselineLength(a, b) >= limit {
				continue
			}
			for t := 0; t < data.Times; t++ {
				outModel.ZeroPair(t, a, b)
				outData.ZeroPair(t, a, b)
				rep.Baselines++
			}
		}
	}
	f.log(rep)
	return outModel, outData, rep
}

// NormalizeMedian divides data by its nonzero median pol00 amplitude.
// Data without any nonzero pol00 entry is returned unchanged.
func NormalizeMedian(data *visibility.Tensor) *visibility.Tensor {
	if data.IsZero() {
		return data.Clone()
	}
	median, ok := NonzeroMedian(data.PolAmplitudes(0))
	if !ok {
		return data.Clone()
	}
	return data.Scale(complex(1/median, 0))
}

// NonzeroMedian returns the median of the nonzero values. With an even
// count the two middle values are averaged. ok is false when every value
// is zero.
func NonzeroMedian(values []float64) (median float64, ok bool) {
	nz := make([]float64, 0, len(values))
	for _, v := range values {
		if v != 0 {
			nz = append(nz, v)
		}
	}
	if len(nz) == 0 {
		return 0, false
	}
	sort.Float64s(nz)
	mid := len(nz) / 2
	if len(nz)%2 == 1 {
		return nz[mid], true
	}
	return (nz[mid-1] + nz[mid]) / 2, true
}

func (f *Flagger) eachBaseline(v *visibility.Tensor, fn func(t, a, b int)) {
	for t := 0; t < v.Times; t++ {
		for a := 0; a < v.Stands; a++ {
			for b := 0; b < v.Stands; b++ {
				fn(t, a, b)
			}
		}
	}
}

func (f *Flagger) log(rep Report) {
	f.logger.Debug("baselines flagged",
		slog.String("flagger", rep.Flagger),
		slog.Int("flagged", rep.Baselines))
}
