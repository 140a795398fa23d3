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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/peelcal/pkg/logging"
	"github.com/AleutianAI/peelcal/services/peel"
	"github.com/AleutianAI/peelcal/services/peel/config"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	obsTime    string
	rings      int
	jsonOut    bool

	cfg    config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "peelcal",
		Short: "Peeling self-calibration for all-sky radio visibilities",
		Long: `peelcal removes the brightest sources from all-sky visibilities one
ring at a time, solves per-antenna gains against each, and images the
calibrated sky.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logger != nil {
				return opts.logger.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("PEELCAL_CONFIG"),
		"YAML configuration file (env PEELCAL_CONFIG)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.StringVar(&opts.obsTime, "time", "", "override observer.time (RFC 3339)")
	flags.IntVar(&opts.rings, "rings", 0, "override peeling.rings")
	flags.BoolVar(&opts.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newRunCmd(opts),
		newPlanCmd(opts),
		newSimulateCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration, applies flag overrides and builds the
// logger.
func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.obsTime != "" {
		at, err := time.Parse(time.RFC3339, o.obsTime)
		if err != nil {
			return fmt.Errorf("--time: %w", err)
		}
		cfg.Observer.Time = at.UTC()
	}
	if o.rings > 0 {
		cfg.Peeling.Rings = o.rings
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, err := cfg.Logging.Logger("peelcal")
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the peelcal version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "peelcal %s\n", peel.ServiceVersion)
			return err
		},
	}
}
