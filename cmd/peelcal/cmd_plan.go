// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/peelcal/pkg/ux"
	"github.com/AleutianAI/peelcal/services/peel"
	"github.com/AleutianAI/peelcal/services/peel/peeling"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the ring plan for the configured catalog and observer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := peel.LoadCandidates(opts.cfg.Catalog)
			if err != nil {
				return err
			}
			plan, err := peeling.BuildPlan(candidates, opts.cfg.Observer, opts.cfg.PlanOptions())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), plan)
			}
			return printPlan(cmd.OutOrStdout(), plan)
		},
	}
}

func printPlan(w io.Writer, plan *peeling.Plan) error {
	p := ux.NewPrinter(w)
	p.Title("Ring plan")
	p.Line("considered %d, peeled %d, skipped %d", plan.Considered, plan.Peeled(), len(plan.Skipped))
	p.Line("")

	rows := make([][]string, 0, len(plan.Rings))
	for _, ring := range plan.Rings {
		var flux float64
		for _, s := range ring.Sources {
			flux += s.Flux
		}
		rows = append(rows, []string{
			strconv.Itoa(ring.Index),
			strconv.Itoa(ring.Cursor),
			strings.Join(ring.SourceIDs(), ","),
			strconv.FormatFloat(flux, 'f', 1, 64),
			strconv.FormatBool(ring.Joint),
		})
	}
	if err := p.Table([]string{"RING", "CURSOR", "SOURCES", "FLUX (Jy)", "JOINT"}, rows); err != nil {
		return err
	}

	if len(plan.Skipped) > 0 {
		ids := make([]string, len(plan.Skipped))
		for i, s := range plan.Skipped {
			ids[i] = s.ID
		}
		p.Line("")
		p.Warning("below horizon: " + strings.Join(ids, ", "))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
