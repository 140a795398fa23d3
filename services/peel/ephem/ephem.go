// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ephem computes topocentric source positions for an observer:
// altitude/azimuth and the east/north/up direction cosines the sky model
// needs. Sidereal time and the equatorial to horizontal transform come
// from the meeus library.
package ephem

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/globe"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/unit"
)

// ErrBadSexagesimal is returned for an unparsable RA or Dec string.
var ErrBadSexagesimal = errors.New("invalid sexagesimal value")

// Observer is a site on the Earth at an instant.
type Observer struct {
	// Latitude in degrees, north positive.
	Latitude float64 `yaml:"latitude" json:"latitude" validate:"gte=-90,lte=90"`

	// Longitude in degrees, east positive.
	Longitude float64 `yaml:"longitude" json:"longitude" validate:"gte=-180,lte=180"`

	// Elevation in meters above sea level. Informational only.
	Elevation float64 `yaml:"elevation" json:"elevation"`

	// Time of the observation (UTC).
	Time time.Time `yaml:"time" json:"time" validate:"required"`
}

// OVRO returns the Owens Valley LWA site at the given instant.
func OVRO(at time.Time) Observer {
	return Observer{
		Latitude:  37.2397808,
		Longitude: -118.2816819,
		Elevation: 1183.48,
		Time:      at,
	}
}

// Position is a topocentric direction.
type Position struct {
	// Alt is the altitude above the horizon in radians.
	Alt float64

	// Az is the azimuth in radians, measured from north through east.
	Az float64

	// L, M, N are the east, north and up direction cosines.
	L, M, N float64
}

// AboveHorizon reports whether the position has non-negative altitude.
func (p Position) AboveHorizon() bool {
	return p.Alt >= 0
}

// Locate converts equatorial coordinates to a topocentric position.
func (o Observer) Locate(ra unit.RA, dec unit.Angle) Position {
	jd := julian.TimeToJD(o.Time.UTC())
	st := sidereal.Apparent(jd)
	// meeus measures longitude positive west.
	g := globe.Coord{
		Lat: unit.AngleFromDeg(o.Latitude),
		Lon: unit.AngleFromDeg(-o.Longitude),
	}
	eq := &coord.Equatorial{RA: ra, Dec: dec}
	hz := new(coord.Horizontal).EqToHz(eq, &g, st)

	alt := hz.Alt.Rad()
	// meeus azimuth runs westward from south.
	az := math.Mod(hz.Az.Rad()+math.Pi, 2*math.Pi)
	if az < 0 {
		az += 2 * math.Pi
	}
	cosAlt := math.Cos(alt)
	return Position{
		Alt: alt,
		Az:  az,
		L:   cosAlt * math.Sin(az),
		M:   cosAlt * math.Cos(az),
		N:   math.Sin(alt),
	}
}

// Altitude returns the source altitude in radians.
func (o Observer) Altitude(ra unit.RA, dec unit.Angle) float64 {
	return o.Locate(ra, dec).Alt
}

// IsBelowHorizon reports whether the source has negative altitude.
func (o Observer) IsBelowHorizon(ra unit.RA, dec unit.Angle) bool {
	return o.Altitude(ra, dec) < 0
}

// ParseRA parses an "hh:mm:ss.s" right ascension.
func ParseRA(s string) (unit.RA, error) {
	neg, v, err := parseSexagesimal(s)
	if err != nil {
		return 0, err
	}
	if neg || v >= 24 {
		return 0, fmt.Errorf("%w: right ascension %q out of range", ErrBadSexagesimal, s)
	}
	return unit.RAFromHour(v), nil
}

// ParseDec parses a "[+-]dd:mm:ss.s" declination.
func ParseDec(s string) (unit.Angle, error) {
	neg, v, err := parseSexagesimal(s)
	if err != nil {
		return 0, err
	}
	if v > 90 {
		return 0, fmt.Errorf("%w: declination %q out of range", ErrBadSexagesimal, s)
	}
	if neg {
		v = -v
	}
	return unit.AngleFromDeg(v), nil
}

// parseSexagesimal returns the sign and magnitude of "[+-]a[:b[:c]]" in
// units of the leading field.
func parseSexagesimal(s string) (neg bool, v float64, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, 0, fmt.Errorf("%w: empty", ErrBadSexagesimal)
	}
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return false, 0, fmt.Errorf("%w: %q", ErrBadSexagesimal, s)
	}
	scale := 1.0
	for i, p := range parts {
		f, perr := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if perr != nil || f < 0 || (i > 0 && f >= 60) {
			return false, 0, fmt.Errorf("%w: %q", ErrBadSexagesimal, s)
		}
		v += f / scale
		scale *= 60
	}
	return neg, v, nil
}
