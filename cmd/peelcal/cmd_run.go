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
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/peelcal/pkg/ux"
	"github.com/AleutianAI/peelcal/services/peel"
	"github.com/AleutianAI/peelcal/services/peel/array"
	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/config"
	"github.com/AleutianAI/peelcal/services/peel/store"
	"github.com/AleutianAI/peelcal/services/peel/telemetry"
	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

type runOptions struct {
	vis       string
	outputDir string
	noStore   bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Peel, calibrate and image a visibility file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeel(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.vis, "vis", "", "visibility file (required)")
	f.StringVar(&opts.outputDir, "output-dir", "", "override imaging.output_dir")
	f.BoolVar(&opts.noStore, "no-store", false, "do not persist the run")
	_ = cmd.MarkFlagRequired("vis")
	return cmd
}

func runPeel(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	if opts.outputDir != "" {
		root.cfg.Imaging.OutputDir = opts.outputDir
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, root, !opts.noStore)
	if err != nil {
		return err
	}
	defer sess.close()

	if root.jsonOut {
		out, err := sess.run(ctx, opts.vis)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), out.Summary)
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	var out *peel.Outcome
	err = p.WithSpinner("peeling "+opts.vis, func() error {
		var runErr error
		out, runErr = sess.run(ctx, opts.vis)
		return runErr
	})
	if err != nil {
		return err
	}
	return printSummary(p, out.Summary, out.Rings)
}

// session holds what every run in one process shares.
type session struct {
	runner     *peel.Runner
	arr        *array.Array
	candidates []catalog.Source
	logger     *slog.Logger
	cleanup    []func()
}

// openSession starts telemetry, opens sinks and, when persist is set, the
// run store, then loads the array and candidates.
func openSession(ctx context.Context, root *rootOptions, persist bool) (*session, error) {
	cfg := root.cfg
	s := &session{logger: root.logger.Slog()}
	opened := false
	defer func() {
		if !opened {
			s.close()
		}
	}()

	prov, metrics, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, func() { flushTelemetry(prov, s.logger) })

	s.arr, err = peel.LoadArray(cfg.Array)
	if err != nil {
		return nil, err
	}
	s.candidates, err = peel.LoadCandidates(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	runnerOpts := []peel.RunnerOption{peel.WithLogger(s.logger), peel.WithMetrics(metrics)}

	sinks, closeSinks, err := peel.OpenSinks(ctx, cfg.Sinks)
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, closeSinks)
	runnerOpts = append(runnerOpts, peel.WithSinks(sinks...))

	if persist {
		cfg.Store.Logger = s.logger
		db, err := store.Open(cfg.Store)
		if err != nil {
			return nil, err
		}
		s.cleanup = append(s.cleanup, func() { _ = db.Close() })
		runnerOpts = append(runnerOpts, peel.WithStore(store.NewRunStore(db)))
	}

	s.runner = peel.NewRunner(cfg, runnerOpts...)
	opened = true
	return s, nil
}

// run reads one visibility file and peels it.
func (s *session) run(ctx context.Context, path string) (*peel.Outcome, error) {
	vis, err := visibility.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, peel.RunRequest{
		Input:      path,
		Vis:        vis,
		Array:      s.arr,
		Candidates: s.candidates,
	})
}

// close releases resources in reverse order of acquisition.
func (s *session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.cleanup = nil
}

// setupTelemetry initializes exporters for the configured observation and
// registers the peel metrics.
func setupTelemetry(ctx context.Context, cfg config.Config) (*telemetry.Providers, *telemetry.Metrics, error) {
	prov, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Observation(peel.ServiceVersion))
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(prov.Meter())
	if err != nil {
		_ = prov.Shutdown(ctx)
		return nil, nil, err
	}
	return prov, metrics, nil
}

func flushTelemetry(prov *telemetry.Providers, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := prov.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
	}
}

func printSummary(p *ux.Printer, sum store.Summary, rings []store.RingRecord) error {
	p.Title("Run " + sum.ID)
	p.KeyValue("status", string(sum.Status))
	p.KeyValue("input", sum.Input)
	p.KeyValue("peeled", fmt.Sprintf("%d of %d considered", sum.Peeled, sum.Considered))
	p.KeyValue("snr", strconv.FormatFloat(sum.Stats.SNR, 'f', 2, 64))
	p.KeyValue("duration", fmt.Sprintf("%.1fs", sum.DurationSeconds))
	p.Line("")

	rows := make([][]string, 0, len(rings))
	for _, r := range rings {
		rows = append(rows, []string{
			strconv.Itoa(r.Ring),
			strings.Join(r.Sources, ","),
			strconv.FormatBool(r.Peeled),
			fmt.Sprint(r.Singular),
			strconv.FormatFloat(r.ResidualIn, 'g', 4, 64),
			strconv.FormatFloat(r.ResidualOut, 'g', 4, 64),
		})
	}
	if err := p.Table([]string{"RING", "SOURCES", "PEELED", "SINGULAR", "RESIDUAL IN", "RESIDUAL OUT"}, rows); err != nil {
		return err
	}

	if len(sum.Outputs) > 0 {
		kinds := make([]string, 0, len(sum.Outputs))
		for k := range sum.Outputs {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		p.Line("")
		for _, k := range kinds {
			p.KeyValue(k, sum.Outputs[k])
		}
	}
	return nil
}

// writeSummaryLine prints one line per run for watch mode.
func writeSummaryLine(w io.Writer, sum store.Summary) {
	fmt.Fprintf(w, "%s\t%s\t%s\tpeeled=%d\tsnr=%.2f\n", sum.ID, sum.Status, sum.Input, sum.Peeled, sum.Stats.SNR)
}
