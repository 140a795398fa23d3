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
	"fmt"
	"sort"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// ApplyGains calibrates data with jones.
//
// Description:
//
//	For every antenna pair (i, j) where neither antenna is bad, the 2x2
//	polarization block B becomes J_iᴴ·B·J_j. Pairs touching a bad antenna
//	are zeroed whatever their input.
//
// Inputs:
//
//	data - Visibilities to calibrate. Not modified.
//	jones - Per-antenna gains. Must match the stand count of data and have
//	        either one time step or as many as data.
//	arr - Antenna array supplying the bad-stand set.
//
// Outputs:
//
//	*visibility.Tensor - Calibrated copy.
//	error - ErrIncompatibleJones on a shape mismatch.
func ApplyGains(data *visibility.Tensor, jones *visibility.Jones, arr *array.Array) (*visibility.Tensor, error) {
	if err := checkCompatible(data, jones, arr); err != nil {
		return nil, err
	}
	return sandwichAll(data, jones, arr), nil
}

// ApplyInverseGains projects data back into the uncalibrated frame.
//
// Description:
//
//	Like ApplyGains but with the per-antenna inverse of jones. An antenna
//	whose block is singular gets the zero matrix as inverse, so every pair
//	involving it becomes zero. All-zero data is returned unchanged.
//
// Outputs:
//
//	*visibility.Tensor - Adjusted copy.
//	[]int - Sorted, de-duplicated indices of singular antennas.
//	error - ErrIncompatibleJones on a shape mismatch.
func ApplyInverseGains(data *visibility.Tensor, jones *visibility.Jones, arr *array.Array) (*visibility.Tensor, []int, error) {
	if err := checkCompatible(data, jones, arr); err != nil {
		return nil, nil, err
	}
	if data.IsZero() {
		return data.Clone(), nil, nil
	}
	inv, singular := jones.Inverse()
	return sandwichAll(data, inv, arr), uniqueSorted(singular), nil
}

func sandwichAll(data *visibility.Tensor, jones *visibility.Jones, arr *array.Array) *visibility.Tensor {
	out := visibility.ZerosLike(data)
	for t := 0; t < data.Times; t++ {
		for i := 0; i < data.Stands; i++ {
			if arr.IsBad(i) {
				continue
			}
			ji := jones.MatrixFor(t, i)
			for j := 0; j < data.Stands; j++ {
				if arr.IsBad(j) {
					continue
				}
				out.SetBlock(t, i, j, visibility.Sandwich(ji, data.Block(t, i, j), jones.MatrixFor(t, j)))
			}
		}
	}
	return out
}

func checkCompatible(data *visibility.Tensor, jones *visibility.Jones, arr *array.Array) error {
	if data == nil || jones == nil || arr == nil {
		return ErrInvalidInput
	}
	if !jones.Compatible(data) || arr.Stands() != data.Stands {
		return fmt.Errorf("%w: jones [%d times, %d stands], data %s, array %d stands",
			ErrIncompatibleJones, jones.Times, jones.Stands, data.Shape(), arr.Stands())
	}
	return nil
}

func uniqueSorted(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	sort.Ints(in)
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
