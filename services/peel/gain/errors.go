// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gain

import "errors"

// Sentinel errors for the gain package.
var (
	// ErrInvalidInput is returned when a required argument is nil.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIncompatibleJones is returned when a Jones array does not fit the data.
	ErrIncompatibleJones = errors.New("jones array incompatible with data")

	// ErrNilSolver is returned when a Stage is built without a solver.
	ErrNilSolver = errors.New("solver must not be nil")
)
