// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command peelcal runs peeling self-calibration on all-sky visibilities.
//
// Usage:
//
//	peelcal plan --config peelcal.yaml
//	peelcal simulate --config peelcal.yaml --out sky.vis --seed 7
//	peelcal run --config peelcal.yaml --vis sky.vis
//	peelcal watch --config peelcal.yaml --dir inbox --existing
//	peelcal serve --config peelcal.yaml
//
// Example requests against serve:
//
//	curl http://localhost:8090/v1/peel/health
//	curl http://localhost:8090/v1/peel/runs?status=succeeded&limit=5 | jq
//	curl http://localhost:8090/v1/peel/runs/<id>/rings | jq
//	websocat ws://localhost:8090/v1/peel/stream
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
