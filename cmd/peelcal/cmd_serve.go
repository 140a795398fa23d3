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
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/peelcal/services/peel"
	"github.com/AleutianAI/peelcal/services/peel/store"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs and /metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			logger := root.logger.Slog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			prov, metrics, err := setupTelemetry(ctx, cfg)
			if err != nil {
				return err
			}
			defer flushTelemetry(prov, logger)

			cfg.Store.Logger = logger
			db, err := store.Open(cfg.Store)
			if err != nil {
				return err
			}
			defer db.Close()

			router := peel.NewRouter(
				peel.NewHandlers(store.NewRunStore(db), logger),
				metrics,
				prov.MetricsHandler(),
				peel.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
			)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("results api listening", "addr", cfg.Server.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("results api shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override server.addr")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode")
	return cmd
}
