// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visibility

import "errors"

// Sentinel errors for the visibility package.
var (
	// ErrShapeMismatch is returned when two arrays cannot be combined.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptyAverage is returned when averaging zero Jones arrays.
	ErrEmptyAverage = errors.New("no jones arrays to average")

	// ErrBadMagic is returned when a visibility file has the wrong header.
	ErrBadMagic = errors.New("not a visibility file")

	// ErrUnsupportedVersion is returned for an unknown file version.
	ErrUnsupportedVersion = errors.New("unsupported visibility file version")
)
