// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink publishes finished runs to systems outside the run store.
//
// A sink sees the summary after images are written and before it is
// saved, so a sink may add entries to Summary.Outputs.
package sink

import (
	"context"
	"errors"

	"github.com/AleutianAI/peelcal/services/peel/store"
)

// ErrNotConfigured is returned when a sink is built from an empty config.
var ErrNotConfigured = errors.New("sink not configured")

// Sink receives every successful run.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Publish sends sum and its rings. It may add to sum.Outputs.
	Publish(ctx context.Context, sum *store.Summary, rings []store.RingRecord) error
}
