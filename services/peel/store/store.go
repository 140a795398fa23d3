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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when a run or ring is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord is returned for records that cannot be stored or
	// decoded.
	ErrInvalidRecord = errors.New("invalid record")
)

const (
	runPrefix  = "run/"
	ringPrefix = "ring/"
)

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

func ringKey(runID string, ring int) []byte {
	return []byte(fmt.Sprintf("%s%s/%04d", ringPrefix, runID, ring))
}

func ringsPrefix(runID string) []byte {
	return []byte(ringPrefix + runID + "/")
}

// RunStore reads and writes run summaries and ring records.
//
// Description:
//
//	Keys are "run/<id>" for summaries and "ring/<id>/<nnnn>" for rings,
//	so a prefix scan returns rings in index order.
//
// Thread Safety: Safe for concurrent use.
type RunStore struct {
	db *DB
}

// NewRunStore wraps db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

func validID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: run id %q", ErrInvalidRecord, id)
	}
	return nil
}

// SaveRun writes or replaces a summary.
func (s *RunStore) SaveRun(ctx context.Context, sum Summary) error {
	if err := validID(sum.ID); err != nil {
		return err
	}
	val, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", sum.ID, err)
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(runKey(sum.ID), val)
	})
}

// GetRun returns the summary for id.
func (s *RunStore) GetRun(ctx context.Context, id string) (Summary, error) {
	var sum Summary
	if err := validID(id); err != nil {
		return sum, err
	}
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, runKey(id), &sum)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("run %s: %w", id, err)
	}
	return sum, nil
}

// ListRuns returns every summary, newest first.
func (s *RunStore) ListRuns(ctx context.Context) ([]Summary, error) {
	var runs []Summary
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		return scanJSON(txn, []byte(runPrefix), func(val []byte) error {
			var sum Summary
			if err := json.Unmarshal(val, &sum); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
			}
			runs = append(runs, sum)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// SaveRing writes or replaces one ring of a run.
func (s *RunStore) SaveRing(ctx context.Context, runID string, rec RingRecord) error {
	if err := validID(runID); err != nil {
		return err
	}
	if rec.Ring < 0 {
		return fmt.Errorf("%w: ring %d", ErrInvalidRecord, rec.Ring)
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ring %d: %w", rec.Ring, err)
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(ringKey(runID, rec.Ring), val)
	})
}

// GetRing returns one ring of a run.
func (s *RunStore) GetRing(ctx context.Context, runID string, ring int) (RingRecord, error) {
	var rec RingRecord
	if err := validID(runID); err != nil {
		return rec, err
	}
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, ringKey(runID, ring), &rec)
	})
	if err != nil {
		return RingRecord{}, fmt.Errorf("run %s ring %d: %w", runID, ring, err)
	}
	return rec, nil
}

// Rings returns every ring of a run in index order. An unknown run is
// ErrNotFound; a known run without rings gives an empty slice.
func (s *RunStore) Rings(ctx context.Context, runID string) ([]RingRecord, error) {
	if err := validID(runID); err != nil {
		return nil, err
	}
	recs := []RingRecord{}
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(runID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("run %s: %w", runID, ErrNotFound)
			}
			return err
		}
		return scanJSON(txn, ringsPrefix(runID), func(val []byte) error {
			var rec RingRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return nil
	})
}

func scanJSON(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
