// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package array describes the antenna array: stand positions and the
// static bad-stand set.
//
// An Array is built once at startup and never mutated afterwards, so it
// may be shared freely between concurrently running pipeline stages.
package array

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// SpeedOfLight in meters per second.
const SpeedOfLight = 299792458.0

// Stand flag values handed to the gain solver.
const (
	FlagBad  int8 = 1
	FlagGood int8 = 2
)

var (
	// ErrEmptyLayout is returned when a layout has no stands.
	ErrEmptyLayout = errors.New("antenna layout has no stands")

	// ErrStandOutOfRange is returned when a bad stand index is not in the layout.
	ErrStandOutOfRange = errors.New("stand index out of range")
)

// Position is an antenna location in local east/north/up meters.
type Position [3]float64

// Array is an immutable antenna layout with its bad-stand set.
type Array struct {
	positions []Position
	bad       []bool
	badList   []int
}

// New builds an Array from positions and bad stand indices.
func New(positions []Position, badStands []int) (*Array, error) {
	if len(positions) == 0 {
		return nil, ErrEmptyLayout
	}
	a := &Array{
		positions: append([]Position(nil), positions...),
		bad:       make([]bool, len(positions)),
	}
	for _, s := range badStands {
		if s < 0 || s >= len(positions) {
			return nil, fmt.Errorf("%w: %d (stands=%d)", ErrStandOutOfRange, s, len(positions))
		}
		if !a.bad[s] {
			a.bad[s] = true
			a.badList = append(a.badList, s)
		}
	}
	sort.Ints(a.badList)
	return a, nil
}

// Stands returns the number of antennas.
func (a *Array) Stands() int {
	return len(a.positions)
}

// IsBad reports whether stand i is in the bad set.
func (a *Array) IsBad(i int) bool {
	return a.bad[i]
}

// BadStands returns the sorted bad stand indices.
func (a *Array) BadStands() []int {
	return append([]int(nil), a.badList...)
}

// Position returns stand i's location.
func (a *Array) Position(i int) Position {
	return a.positions[i]
}

// StandFlags returns the per-stand solver flags: FlagBad or FlagGood.
func (a *Array) StandFlags() []int8 {
	flags := make([]int8, len(a.positions))
	for i := range flags {
		flags[i] = FlagGood
		if a.bad[i] {
			flags[i] = FlagBad
		}
	}
	return flags
}

// BaselineLength returns the distance in meters between stands i and j.
func (a *Array) BaselineLength(i, j int) float64 {
	pi, pj := a.positions[i], a.positions[j]
	dx, dy, dz := pi[0]-pj[0], pi[1]-pj[1], pi[2]-pj[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Baseline returns the vector from stand j to stand i in meters.
func (a *Array) Baseline(i, j int) Position {
	pi, pj := a.positions[i], a.positions[j]
	return Position{pi[0] - pj[0], pi[1] - pj[1], pi[2] - pj[2]}
}

// Wavelength converts a frequency in Hz to meters.
func Wavelength(freq float64) float64 {
	return SpeedOfLight / freq
}

// LoadLayout reads a layout file at path. See ParseLayout.
func LoadLayout(path string) ([]Position, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()
	return ParseLayout(f)
}

// ParseLayout reads one stand per line as whitespace separated "x y z"
// meters. Blank lines and lines starting with '#' are ignored.
func ParseLayout(r io.Reader) ([]Position, error) {
	var out []Position
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("layout line %d: want 3 columns, got %d", line, len(fields))
		}
		var p Position
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(fields[k], 64)
			if err != nil {
				return nil, fmt.Errorf("layout line %d column %d: %w", line, k+1, err)
			}
			p[k] = v
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyLayout
	}
	return out, nil
}
