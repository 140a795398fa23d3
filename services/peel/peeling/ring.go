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
	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/flagging"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// RingState holds everything one ring produced.
//
// Description:
//
//	PREPEEL fills every field except PeelJones, Unpeeled and PeelFlags.
//	PEEL fills those for rings 0..N-2. The last ring keeps its PREPEEL
//	Jones as its final solution.
type RingState struct {
	Index   int
	Sources []catalog.Source
	Joint   bool

	// Model is the bad-stand flagged model.
	Model *visibility.Tensor

	ThresholdedModel *visibility.Tensor
	ThresholdedData  *visibility.Tensor
	LongModel        *visibility.Tensor
	LongData         *visibility.Tensor

	// Jones is the PREPEEL solution.
	Jones *visibility.Jones

	// Singular lists antennas whose PREPEEL Jones block had no inverse.
	Singular []int

	AdjustedModel *visibility.Tensor
	ScaledModel   *visibility.Tensor
	ResidualIn    *visibility.Tensor
	ResidualOut   *visibility.Tensor
	Flags         []flagging.Report

	Unpeeled  *visibility.Tensor
	PeelJones *visibility.Jones
	PeelFlags []flagging.Report
}

// Solution returns the Jones this ring contributes to the average.
func (r *RingState) Solution() *visibility.Jones {
	if r.PeelJones != nil {
		return r.PeelJones
	}
	return r.Jones
}

// Peeled reports whether the ring went through the PEEL phase.
func (r *RingState) Peeled() bool {
	return r.PeelJones != nil
}
