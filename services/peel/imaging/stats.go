// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imaging

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// foregroundFraction is the share of pixels, by ascending amplitude,
// counted as background.
const foregroundFraction = 0.75

// Region summarizes the amplitudes of a set of pixels.
type Region struct {
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	RMS    float64 `json:"rms"`
}

// Stats summarizes image quality.
type Stats struct {
	// SNR is the peak amplitude over the mean amplitude.
	SNR float64 `json:"snr"`

	// Foreground covers the brightest quarter of pixels.
	Foreground Region `json:"foreground"`

	// Background covers the remaining pixels.
	Background Region `json:"background"`
}

// ComputeStats returns amplitude statistics for im.
func ComputeStats(im *Image) Stats {
	amps := im.Amplitudes()
	if len(amps) == 0 {
		return Stats{}
	}
	sort.Float64s(amps)
	split := int(foregroundFraction * float64(len(amps)))

	var st Stats
	if mean := stat.Mean(amps, nil); mean > 0 {
		st.SNR = floats.Max(amps) / mean
	}
	st.Foreground = region(amps[split:])
	st.Background = region(amps[:split])
	return st
}

func region(x []float64) Region {
	if len(x) == 0 {
		return Region{}
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return Region{
		Max:    floats.Max(x),
		Min:    floats.Min(x),
		Mean:   mean,
		StdDev: std,
		RMS:    math.Sqrt(floats.Dot(x, x) / float64(len(x))),
	}
}
