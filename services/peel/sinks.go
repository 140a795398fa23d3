// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peel

import (
	"context"

	"github.com/AleutianAI/peelcal/services/peel/config"
	"github.com/AleutianAI/peelcal/services/peel/sink"
)

// OpenSinks builds every enabled sink in cfg.
//
// Outputs:
//
//	[]sink.Sink - Enabled sinks, possibly empty.
//	func() - Releases every sink. Never nil.
//	error - The first construction error. Sinks built before it are
//	        already released.
func OpenSinks(ctx context.Context, cfg config.SinksConfig) ([]sink.Sink, func(), error) {
	var (
		sinks   []sink.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.Influx.Enabled() {
		s, err := sink.NewInflux(cfg.Influx)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, s)
		closers = append(closers, func() error { s.Close(); return nil })
	}
	if cfg.GCS.Enabled() {
		s, err := sink.NewGCS(ctx, cfg.GCS)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}
	return sinks, closeAll, nil
}
