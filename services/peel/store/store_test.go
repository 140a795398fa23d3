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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/peelcal/services/peel/flagging"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.True(t, db.InMemory())
	return NewRunStore(db)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, NewRunStore(db).SaveRun(ctx, Summary{ID: "persisted", Status: StatusSucceeded}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	sum, err := NewRunStore(db).GetRun(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, sum.Status)
}

func TestRunStore_SaveGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := Summary{
		ID:              "run1",
		Status:          StatusSucceeded,
		StartedAt:       time.Date(2015, 4, 9, 14, 34, 51, 0, time.UTC),
		DurationSeconds: 12.5,
		Input:           "vis.pcvs",
		Frequency:       74e6,
		Considered:      5,
		Peeled:          3,
		Skipped:         []string{"7", "9"},
		SetupFlags:      []flagging.Report{{Flagger: flagging.NameSelf, Baselines: 4}},
		Outputs:         map[string]string{"png": "out/run1.png"},
		StageSeconds:    map[string]float64{"combine/image": 0.25},
	}
	require.NoError(t, s.SaveRun(ctx, in))

	out, err := s.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRunStore_GetRunErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetRun(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRecord)

	assert.ErrorIs(t, s.SaveRun(ctx, Summary{ID: "a/b"}), ErrInvalidRecord)
}

func TestRunStore_ListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		offset := map[string]time.Duration{"old": 0, "mid": time.Hour, "new": 2 * time.Hour}[id]
		require.NoError(t, s.SaveRun(ctx, Summary{ID: id, StartedAt: base.Add(offset), Peeled: i}))
	}
	// A ring record must not show up as a run.
	require.NoError(t, s.SaveRing(ctx, "old", RingRecord{Ring: 0}))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "mid", runs[1].ID)
	assert.Equal(t, "old", runs[2].ID)
}

func TestRunStore_RingsInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, Summary{ID: "r"}))
	require.NoError(t, s.SaveRun(ctx, Summary{ID: "r2"}))
	for _, ring := range []int{10, 2, 0, 1} {
		require.NoError(t, s.SaveRing(ctx, "r", RingRecord{Ring: ring, Sources: []string{"s"}}))
	}
	require.NoError(t, s.SaveRing(ctx, "r2", RingRecord{Ring: 5}))

	recs, err := s.Rings(ctx, "r")
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i, want := range []int{0, 1, 2, 10} {
		assert.Equal(t, want, recs[i].Ring)
	}

	rec, err := s.GetRing(ctx, "r", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, rec.Sources)

	_, err = s.GetRing(ctx, "r", 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_RingsUnknownRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Rings(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRun(ctx, Summary{ID: "empty"}))
	recs, err := s.Rings(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.ErrorIs(t, s.SaveRing(ctx, "empty", RingRecord{Ring: -1}), ErrInvalidRecord)
}

func TestRunStore_CanceledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.SaveRun(ctx, Summary{ID: "x"}), context.Canceled)
	_, err := s.ListRuns(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJonesRecord(t *testing.T) {
	assert.Nil(t, NewJonesRecord(nil))

	j := visibility.NewIdentityJones(2, 3)
	j.Set(1, 0, 2, 1, complex(0.5, -0.25))

	rec := NewJonesRecord(j)
	assert.Equal(t, 2, rec.Times)
	assert.Equal(t, 3, rec.Stands)

	back, err := rec.Jones()
	require.NoError(t, err)
	assert.Equal(t, j.Data, back.Data)

	rec.Re = rec.Re[:5]
	_, err = rec.Jones()
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestRingRecord_JonesSurvivesStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := visibility.NewIdentityJones(1, 4)
	j.Set(0, 1, 3, 1, complex(2, 1))
	require.NoError(t, s.SaveRun(ctx, Summary{ID: "j"}))
	require.NoError(t, s.SaveRing(ctx, "j", RingRecord{Ring: 0, Jones: NewJonesRecord(j), Singular: []int{3}}))

	rec, err := s.GetRing(ctx, "j", 0)
	require.NoError(t, err)
	back, err := rec.Jones.Jones()
	require.NoError(t, err)
	assert.True(t, j.ApproxEqual(back, 0))
	assert.Equal(t, []int{3}, rec.Singular)
	assert.Nil(t, rec.PeelJones)
}
