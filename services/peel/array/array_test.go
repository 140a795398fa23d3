// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package array

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StandFlags(t *testing.T) {
	a, err := New([]Position{{0, 0, 0}, {3, 4, 0}, {0, 10, 0}}, []int{2, 2})
	require.NoError(t, err)

	assert.Equal(t, []int8{FlagGood, FlagGood, FlagBad}, a.StandFlags())
	assert.Equal(t, []int{2}, a.BadStands())
	assert.InDelta(t, 5.0, a.BaselineLength(0, 1), 1e-12)
	assert.Equal(t, Position{-3, -4, 0}, a.Baseline(0, 1))
}

func TestNew_RejectsOutOfRange(t *testing.T) {
	_, err := New([]Position{{0, 0, 0}}, []int{1})
	assert.True(t, errors.Is(err, ErrStandOutOfRange))

	_, err = New(nil, nil)
	assert.True(t, errors.Is(err, ErrEmptyLayout))
}

func TestParseLayout(t *testing.T) {
	in := "# east north up\n0 0 0\n\n 1.5 -2 0.25 extra\n"
	got, err := ParseLayout(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Position{{0, 0, 0}, {1.5, -2, 0.25}}, got)

	_, err = ParseLayout(strings.NewReader("1 2\n"))
	assert.Error(t, err)
}
