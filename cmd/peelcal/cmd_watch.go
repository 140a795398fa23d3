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
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/peelcal/pkg/ux"
	"github.com/AleutianAI/peelcal/services/peel/watch"
)

type watchOptions struct {
	dir      string
	existing bool
	maxRuns  int
	noStore  bool
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Peel every visibility file that lands in a directory",
		Long: `watch runs the pipeline on each file matching watch.pattern once it
has stopped changing for watch.debounce. Files are processed one at a
time in arrival order until the command is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", "", "inbox directory (default watch.dir)")
	f.BoolVar(&opts.existing, "existing", false, "also process files already in the directory")
	f.IntVar(&opts.maxRuns, "max-runs", 0, "stop after this many runs (0 means no limit)")
	f.BoolVar(&opts.noStore, "no-store", false, "do not persist runs")
	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, opts *watchOptions) error {
	cfg := root.cfg
	dir := opts.dir
	if dir == "" {
		dir = cfg.Watch.Dir
	}
	if dir == "" {
		return errors.New("watch: --dir or watch.dir is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := openSession(ctx, root, !opts.noStore)
	if err != nil {
		return err
	}
	defer sess.close()

	w, err := watch.New(dir, watch.Options{
		Pattern:         cfg.Watch.Pattern,
		Debounce:        cfg.Watch.Debounce,
		IncludeExisting: opts.existing,
	}, sess.logger)
	if err != nil {
		return err
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	sess.logger.Info("watching for visibilities",
		slog.String("dir", dir),
		slog.String("pattern", cfg.Watch.Pattern),
	)

	runs := 0
	return w.Run(ctx, func(ctx context.Context, path string) {
		out, err := sess.run(ctx, path)
		switch {
		case err != nil:
			sess.logger.Error("watch run failed", slog.String("path", path), slog.String("error", err.Error()))
			p.Error(path + ": " + err.Error())
		case root.jsonOut:
			if err := writeJSON(p.Writer(), out.Summary); err != nil {
				sess.logger.Warn("write summary", slog.String("error", err.Error()))
			}
		default:
			writeSummaryLine(p.Writer(), out.Summary)
		}
		runs++
		if opts.maxRuns > 0 && runs >= opts.maxRuns {
			cancel()
		}
	})
}
