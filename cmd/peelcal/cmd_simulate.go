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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/peelcal/services/peel"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

type simulateOptions struct {
	out       string
	sources   int
	times     int
	seed      uint64
	amplitude float64
	phase     float64
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Synthesize corrupted visibilities from the catalog and layout",
		Long: `simulate predicts visibilities for the brightest catalog candidates,
corrupts them with random diagonal gains and writes a visibility file
that "peelcal run --vis" accepts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.out, "out", "o", "", "visibility file to write (required)")
	f.IntVar(&opts.sources, "sources", 20, "number of brightest candidates on the simulated sky")
	f.IntVar(&opts.times, "times", 1, "number of time steps")
	f.Uint64Var(&opts.seed, "seed", 1, "gain seed")
	f.Float64Var(&opts.amplitude, "amplitude", 0.1, "largest fractional gain amplitude error")
	f.Float64Var(&opts.phase, "phase", 0.5, "largest gain phase error in radians")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runSimulate(cmd *cobra.Command, root *rootOptions, opts *simulateOptions) error {
	if opts.sources < 1 || opts.times < 1 {
		return errors.New("--sources and --times must be positive")
	}
	cfg := root.cfg
	arr, err := peel.LoadArray(cfg.Array)
	if err != nil {
		return err
	}
	candidates, err := peel.LoadCandidates(cfg.Catalog)
	if err != nil {
		return err
	}
	if len(candidates) > opts.sources {
		candidates = candidates[:opts.sources]
	}

	gen := peel.PointSourceGenerator(arr, cfg.Observer, cfg.Frequency, opts.times)
	gains := peel.RandomGains(1, arr.Stands(), peel.GainJitter{Amplitude: opts.amplitude, Phase: opts.phase}, opts.seed)
	vis, err := peel.Simulate(cmd.Context(), gen, arr, candidates, gains)
	if err != nil {
		return err
	}
	if err := visibility.WriteFile(opts.out, vis); err != nil {
		return err
	}

	root.logger.Info("simulated visibilities written",
		"path", opts.out,
		"stands", arr.Stands(),
		"times", opts.times,
		"sources", len(candidates),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d sources)\n", opts.out, vis.Shape(), len(candidates))
	return err
}
