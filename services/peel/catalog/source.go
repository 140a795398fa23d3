// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"fmt"
	"math"

	"github.com/AleutianAI/peelcal/services/peel/ephem"
	"github.com/soniakeys/unit"
)

// Source describes one point source.
//
// Description:
//
//	Sources are immutable values. The catalog owns them; sky model
//	generators borrow them read-only. RA and Dec are kept both as the
//	sexagesimal strings read from the catalog and as parsed angles.
//
// Thread Safety:
//
//	Safe for concurrent use. No method mutates the receiver.
type Source struct {
	// ID is the catalog identifier, a sequential integer in file order
	// for catalog entries or a short name for calibrators.
	ID string `json:"id"`

	// RA is the right ascension as "hh:mm:ss.s".
	RA string `json:"ra"`

	// Dec is the declination as "[+-]dd:mm:ss.s".
	Dec string `json:"dec"`

	// Flux in Jy at Frequency.
	Flux float64 `json:"flux"`

	// Frequency is the reference frequency for Flux, in Hz.
	Frequency float64 `json:"frequency"`

	// SpectralIndex is the power-law index of the flux spectrum.
	SpectralIndex float64 `json:"spectral_index"`

	ra  unit.RA
	dec unit.Angle
}

// NewSource parses the coordinates and returns a Source.
func NewSource(id, ra, dec string, flux, freq, spectralIndex float64) (Source, error) {
	r, err := ephem.ParseRA(ra)
	if err != nil {
		return Source{}, fmt.Errorf("source %s: %w", id, err)
	}
	d, err := ephem.ParseDec(dec)
	if err != nil {
		return Source{}, fmt.Errorf("source %s: %w", id, err)
	}
	return Source{
		ID:            id,
		RA:            ra,
		Dec:           dec,
		Flux:          flux,
		Frequency:     freq,
		SpectralIndex: spectralIndex,
		ra:            r,
		dec:           d,
	}, nil
}

// Coordinates returns the parsed right ascension and declination.
func (s Source) Coordinates() (unit.RA, unit.Angle) {
	return s.ra, s.dec
}

// FluxAt extrapolates the flux to freq along the power law.
func (s Source) FluxAt(freq float64) float64 {
	if s.Frequency <= 0 {
		return s.Flux
	}
	return s.Flux * math.Pow(freq/s.Frequency, s.SpectralIndex)
}

// IsBelowHorizon reports whether src has negative altitude for obs.
func IsBelowHorizon(src Source, obs ephem.Observer) bool {
	return obs.IsBelowHorizon(src.ra, src.dec)
}

// mustSource builds a Source from constant coordinates.
func mustSource(id, ra, dec string, flux, freq, si float64) Source {
	s, err := NewSource(id, ra, dec, flux, freq, si)
	if err != nil {
		panic(err)
	}
	return s
}

// CygnusA returns the Cygnus A calibrator.
func CygnusA() Source {
	return mustSource("cyg", "19:59:28.4", "+40:44:02.1", 10571.0, 58e6, -0.2046)
}

// CassiopeiaA returns the Cassiopeia A calibrator.
func CassiopeiaA() Source {
	return mustSource("cas", "23:23:27.8", "+58:48:34", 6052.0, 58e6, 0.7581)
}

// JointCalibrators returns the two-source model used for the first ring:
// Cygnus A and Cassiopeia A are both bright enough that neither can be
// solved for while the other is present.
func JointCalibrators() []Source {
	return []Source{CygnusA(), CassiopeiaA()}
}
