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
	"fmt"

	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/ephem"
)

// Ring is one planned peel iteration.
type Ring struct {
	// Index is the ring number, 0..N-1.
	Index int `json:"index"`

	// Cursor is the position in the ranked source list the ring drew from.
	Cursor int `json:"cursor"`

	// Sources are modeled together for this ring.
	Sources []catalog.Source `json:"sources"`

	// Joint is true when the joint calibrator model replaced the
	// catalog entry.
	Joint bool `json:"joint"`
}

// SourceIDs returns the ids of the ring's sources.
func (r Ring) SourceIDs() []string {
	ids := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		ids[i] = s.ID
	}
	return ids
}

// Plan is the ring assignment for one run.
//
// Description:
//
//	Considered counts every ranked entry the cursor visited. Peeled is the
//	number of rings. The difference is the below-horizon sources listed in
//	Skipped.
type Plan struct {
	Rings      []Ring           `json:"rings"`
	Considered int              `json:"considered"`
	Skipped    []catalog.Source `json:"skipped,omitempty"`
}

// Peeled returns the number of rings.
func (p *Plan) Peeled() int {
	return len(p.Rings)
}

// PlanOptions control ring assignment.
type PlanOptions struct {
	// Rings is the number of sources to peel.
	Rings int

	// Joint replaces the source at cursor 0, when that source is above the
	// horizon. Empty disables the joint model.
	Joint []catalog.Source
}

// BuildPlan walks the ranked sources and assigns one to each ring.
//
// Description:
//
//	A cursor walks ranked in order. Sources below the horizon are recorded
//	as skipped and do not consume a ring. When the ring is drawn at cursor
//	0 and opts.Joint is set, the joint model is used instead of that
//	source. Running out of sources before every ring is filled returns
//	ErrInsufficientSources.
//
// Inputs:
//
//	ranked - Sources in peel order, brightest first.
//	obs - Observer used for the horizon test.
//	opts - Ring count and joint model.
//
// Outputs:
//
//	*Plan - The ring assignment.
//	error - ErrInvalidConfig or ErrInsufficientSources.
func BuildPlan(ranked []catalog.Source, obs ephem.Observer, opts PlanOptions) (*Plan, error) {
	if opts.Rings < 1 {
		return nil, fmt.Errorf("%w: rings must be at least 1, got %d", ErrInvalidConfig, opts.Rings)
	}

	plan := &Plan{Rings: make([]Ring, 0, opts.Rings)}
	cursor := 0
	for len(plan.Rings) < opts.Rings {
		if cursor >= len(ranked) {
			return nil, fmt.Errorf("%w: need %d, found %d above the horizon in %d candidates",
				ErrInsufficientSources, opts.Rings, len(plan.Rings), len(ranked))
		}
		src := ranked[cursor]
		plan.Considered++

		if catalog.IsBelowHorizon(src, obs) {
			plan.Skipped = append(plan.Skipped, src)
			cursor++
			continue
		}

		ring := Ring{Index: len(plan.Rings), Cursor: cursor, Sources: []catalog.Source{src}}
		if cursor == 0 && len(opts.Joint) > 0 {
			ring.Sources = append([]catalog.Source(nil), opts.Joint...)
			ring.Joint = true
		}
		plan.Rings = append(plan.Rings, ring)
		cursor++
	}
	return plan, nil
}
