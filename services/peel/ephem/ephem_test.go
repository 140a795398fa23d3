// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ephem

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRA(t *testing.T) {
	ra, err := ParseRA("19:59:28.4")
	require.NoError(t, err)
	assert.InDelta(t, 19+59.0/60+28.4/3600, ra.Hour(), 1e-9)

	_, err = ParseRA("25:00:00")
	assert.True(t, errors.Is(err, ErrBadSexagesimal))
}

func TestParseDec(t *testing.T) {
	dec, err := ParseDec("+40:44:02.1")
	require.NoError(t, err)
	assert.InDelta(t, 40+44.0/60+2.1/3600, dec.Deg(), 1e-9)

	dec, err = ParseDec("-05:30")
	require.NoError(t, err)
	assert.InDelta(t, -5.5, dec.Deg(), 1e-9)

	_, err = ParseDec("+40:61:00")
	assert.Error(t, err)
	_, err = ParseDec("")
	assert.Error(t, err)
}

// The celestial pole sits due north at an altitude equal to the site
// latitude; the opposite pole never rises.
func TestLocate_PolesAndZenith(t *testing.T) {
	obs := OVRO(time.Date(2015, 4, 9, 14, 34, 51, 0, time.UTC))

	ncp, err := ParseDec("+90:00:00")
	require.NoError(t, err)
	scp, err := ParseDec("-90:00:00")
	require.NoError(t, err)
	ra, err := ParseRA("00:00:00")
	require.NoError(t, err)

	north := obs.Locate(ra, ncp)
	assert.InDelta(t, obs.Latitude*math.Pi/180, north.Alt, 1e-6)
	assert.True(t, north.AboveHorizon())
	assert.InDelta(t, 0, north.L, 1e-6)
	assert.Greater(t, north.M, 0.0)

	assert.True(t, obs.IsBelowHorizon(ra, scp))

	p := obs.Locate(ra, ncp)
	norm := p.L*p.L + p.M*p.M + p.N*p.N
	assert.InDelta(t, 1.0, norm, 1e-9)
}
