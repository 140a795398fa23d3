// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peeling

import "errors"

// Sentinel errors for the peeling package.
var (
	// ErrInsufficientSources is returned when fewer usable sources exist
	// than rings requested.
	ErrInsufficientSources = errors.New("not enough sources above the horizon")

	// ErrInvalidConfig is returned for an unusable controller setup.
	ErrInvalidConfig = errors.New("invalid peeling configuration")

	// ErrNilDependency is returned when a required collaborator is missing.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrIncompleteModel is returned when a generator omits the model or UV.
	ErrIncompleteModel = errors.New("sky model output is incomplete")
)
