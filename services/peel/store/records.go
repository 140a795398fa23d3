// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"time"

	"github.com/AleutianAI/peelcal/services/peel/flagging"
	"github.com/AleutianAI/peelcal/services/peel/imaging"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Summary describes one pipeline run.
type Summary struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`

	// DurationSeconds is the wall time of the whole run.
	DurationSeconds float64 `json:"duration_seconds"`

	// Input names the visibility source, a file path or "simulated".
	Input     string  `json:"input"`
	Frequency float64 `json:"frequency"`

	Considered int      `json:"considered"`
	Peeled     int      `json:"peeled"`
	Skipped    []string `json:"skipped,omitempty"`

	SetupFlags []flagging.Report `json:"setup_flags,omitempty"`
	Stats      imaging.Stats     `json:"stats"`

	// Outputs maps an artifact kind ("fits", "png") to its path.
	Outputs map[string]string `json:"outputs,omitempty"`

	// StageSeconds is keyed by stage id.
	StageSeconds map[string]float64 `json:"stage_seconds,omitempty"`

	Average *JonesRecord `json:"average,omitempty"`
}

// RingRecord is the persisted state of one ring.
type RingRecord struct {
	Ring    int      `json:"ring"`
	Sources []string `json:"sources"`
	Joint   bool     `json:"joint"`
	Peeled  bool     `json:"peeled"`

	Singular  []int             `json:"singular,omitempty"`
	Flags     []flagging.Report `json:"flags,omitempty"`
	PeelFlags []flagging.Report `json:"peel_flags,omitempty"`

	// ResidualIn and ResidualOut are the peak residual amplitudes around
	// this ring's subtraction.
	ResidualIn  float64 `json:"residual_in"`
	ResidualOut float64 `json:"residual_out"`

	Jones     *JonesRecord `json:"jones,omitempty"`
	PeelJones *JonesRecord `json:"peel_jones,omitempty"`
}

// JonesRecord is a Jones array split into real and imaginary parts.
type JonesRecord struct {
	Times  int       `json:"times"`
	Stands int       `json:"stands"`
	Re     []float64 `json:"re"`
	Im     []float64 `json:"im"`
}

// NewJonesRecord flattens j. A nil j gives nil.
func NewJonesRecord(j *visibility.Jones) *JonesRecord {
	if j == nil {
		return nil
	}
	rec := &JonesRecord{
		Times:  j.Times,
		Stands: j.Stands,
		Re:     make([]float64, len(j.Data)),
		Im:     make([]float64, len(j.Data)),
	}
	for i, v := range j.Data {
		rec.Re[i] = real(v)
		rec.Im[i] = imag(v)
	}
	return rec
}

// Jones rebuilds the Jones array.
func (r *JonesRecord) Jones() (*visibility.Jones, error) {
	want := r.Times * visibility.NPol * r.Stands * visibility.NPol
	if r.Times <= 0 || r.Stands <= 0 || len(r.Re) != want || len(r.Im) != want {
		return nil, fmt.Errorf("%w: jones record [%d times, %d stands] has %d/%d values",
			ErrInvalidRecord, r.Times, r.Stands, len(r.Re), len(r.Im))
	}
	j := visibility.NewJones(r.Times, r.Stands)
	for i := range j.Data {
		j.Data[i] = complex(r.Re[i], r.Im[i])
	}
	return j, nil
}
