// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peeling

import (
	"context"
	"fmt"

	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/gain"
	"github.com/AleutianAI/peelcal/services/peel/imaging"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// Average returns the elementwise mean of the ring solutions.
func Average(solutions ...*visibility.Jones) (*visibility.Jones, error) {
	avg, err := visibility.Average(solutions...)
	if err != nil {
		return nil, fmt.Errorf("average solutions: %w", err)
	}
	return avg, nil
}

// CalibrateFull applies the averaged solution to the clean, un-peeled
// visibilities.
func CalibrateFull(clean *visibility.Tensor, avg *visibility.Jones, arr *array.Array) (*visibility.Tensor, error) {
	out, err := gain.ApplyGains(clean, avg, arr)
	if err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}
	return out, nil
}

// Rendered is the final sky image.
type Rendered struct {
	// Image carries the horizon overlay.
	Image *imaging.Image

	// Raw is the image before the overlay.
	Raw *imaging.Image

	Stats imaging.Stats
}

// Render images calibrated visibilities and draws the horizon circle for
// the operating frequency. Stats are computed before the overlay.
func Render(ctx context.Context, imager imaging.Imager, vis *visibility.Tensor, uv *visibility.UV, frequency float64) (Rendered, error) {
	raw, err := imager.Image(ctx, vis, uv)
	if err != nil {
		return Rendered{}, fmt.Errorf("image calibrated visibilities: %w", err)
	}
	return Rendered{
		Image: imaging.HorizonOverlay(raw, imaging.HorizonRadius(frequency)),
		Raw:   raw,
		Stats: imaging.ComputeStats(raw),
	}, nil
}
