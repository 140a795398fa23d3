// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog loads the fixed-column radio source catalog and selects
// the bright sources to peel.
//
// # File Format
//
// The file starts with a header block of HeaderLines lines. Every
// following line that does not begin with whitespace is a source:
//
//	cols  0-11  right ascension "hh mm ss.ss"
//	cols 12-23  declination     "+dd mm ss.s"
//	cols 29-36  flux in Jy
//
// Ingestion stops at the first line whose flux column does not parse.
// That marks the end of the usable catalog and is not an error.
package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrEmptyCatalog is returned when no source survives loading.
var ErrEmptyCatalog = errors.New("catalog has no usable sources")

// Options control catalog ingestion.
type Options struct {
	// HeaderLines is the number of leading lines to skip.
	HeaderLines int `yaml:"header_lines" json:"header_lines" validate:"gte=0"`

	// MinFlux drops sources at or below this flux (Jy).
	MinFlux float64 `yaml:"min_flux" json:"min_flux" validate:"gte=0"`

	// Frequency is the reference frequency assigned to every source (Hz).
	Frequency float64 `yaml:"frequency" json:"frequency" validate:"gt=0"`

	// SpectralIndex is assigned to every source.
	SpectralIndex float64 `yaml:"spectral_index" json:"spectral_index"`
}

// DefaultOptions returns the options for the VLSSr catalog.
func DefaultOptions() Options {
	return Options{
		HeaderLines:   16,
		MinFlux:       1,
		Frequency:     74e6,
		SpectralIndex: -0.7,
	}
}

// Catalog is the set of sources read from a catalog file, in file order.
type Catalog struct {
	Sources []Source

	// Rejected lists the line numbers of entries whose coordinates did
	// not parse. Those lines are skipped.
	Rejected []int

	byID map[string]int
}

// Len returns the number of sources.
func (c *Catalog) Len() int {
	return len(c.Sources)
}

// Get returns the source with the given id.
func (c *Catalog) Get(id string) (Source, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Source{}, false
	}
	return c.Sources[i], true
}

// Load opens and parses the catalog at path.
func Load(path string, opts Options) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f, opts)
}

// Parse reads a catalog. See the package documentation for the format.
func Parse(r io.Reader, opts Options) (*Catalog, error) {
	cat := &Catalog{byID: make(map[string]int)}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for lineNo < opts.HeaderLines && sc.Scan() {
		lineNo++
	}
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" || isSpace(line[0]) {
			continue
		}
		flux, err := strconv.ParseFloat(stripBlanks(column(line, 29, 36)), 64)
		if err != nil {
			break
		}
		if flux <= opts.MinFlux {
			continue
		}
		ra := stripBlanks(column(line, 0, 2) + ":" + column(line, 3, 5) + ":" + column(line, 6, 11))
		dec := stripBlanks(column(line, 12, 15) + ":" + column(line, 16, 18) + ":" + column(line, 19, 23))
		id := strconv.Itoa(len(cat.Sources))
		src, err := NewSource(id, ra, dec, flux, opts.Frequency, opts.SpectralIndex)
		if err != nil {
			cat.Rejected = append(cat.Rejected, lineNo)
			continue
		}
		cat.byID[id] = len(cat.Sources)
		cat.Sources = append(cat.Sources, src)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if len(cat.Sources) == 0 {
		return nil, ErrEmptyCatalog
	}
	return cat, nil
}

// RankByFlux returns the sources ordered by descending flux. Equal fluxes
// keep file order.
func RankByFlux(cat *Catalog) []Source {
	ranked := append([]Source(nil), cat.Sources...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Flux > ranked[j].Flux
	})
	return ranked
}

// Exclude drops the sources whose id is listed.
func Exclude(ranked []Source, ids []string) []Source {
	if len(ids) == 0 {
		return append([]Source(nil), ranked...)
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make([]Source, 0, len(ranked))
	for _, s := range ranked {
		if _, ok := drop[s.ID]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// ExcludeRanks keeps the first pool entries of ranked, minus those at the
// listed rank positions. A pool of zero or beyond the list keeps all.
func ExcludeRanks(ranked []Source, ranks []int, pool int) []Source {
	if pool <= 0 || pool > len(ranked) {
		pool = len(ranked)
	}
	drop := make(map[int]struct{}, len(ranks))
	for _, r := range ranks {
		drop[r] = struct{}{}
	}
	out := make([]Source, 0, pool)
	for i := 0; i < pool; i++ {
		if _, ok := drop[i]; !ok {
			out = append(out, ranked[i])
		}
	}
	return out
}

// Selection configures how the candidate peel list is drawn from the
// ranked catalog.
type Selection struct {
	// Pool is how many of the brightest sources are considered. Zero
	// means all of them.
	Pool int `yaml:"pool" json:"pool" validate:"gte=0"`

	// ExcludeRanks are rank positions within the pool known to overlap
	// brighter sources.
	ExcludeRanks []int `yaml:"exclude_ranks" json:"exclude_ranks" validate:"dive,gte=0"`

	// ExcludeIDs are catalog ids to drop.
	ExcludeIDs []string `yaml:"exclude_ids" json:"exclude_ids"`

	// SkipLeading drops this many entries from the head of the filtered
	// list, for sources already covered by the joint calibrator model.
	SkipLeading int `yaml:"skip_leading" json:"skip_leading" validate:"gte=0"`
}

// DefaultSelection matches the VLSSr overlap list used at OVRO.
func DefaultSelection() Selection {
	return Selection{
		Pool:         200,
		ExcludeRanks: []int{2, 3, 4, 5, 6, 9, 12, 15, 16},
		SkipLeading:  1,
	}
}

// Select ranks the catalog and applies sel.
func Select(cat *Catalog, sel Selection) []Source {
	out := ExcludeRanks(RankByFlux(cat), sel.ExcludeRanks, sel.Pool)
	out = Exclude(out, sel.ExcludeIDs)
	if sel.SkipLeading >= len(out) {
		return nil
	}
	return out[sel.SkipLeading:]
}

// column returns line[from:to], clamped to the line length.
func column(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return line[from:to]
}

func stripBlanks(s string) string {
	return strings.ReplaceAll(s, " ", "")
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
