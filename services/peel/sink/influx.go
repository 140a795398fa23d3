// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/peelcal/services/peel/flagging"
	"github.com/AleutianAI/peelcal/services/peel/store"
)

// InfluxConfig selects an InfluxDB v2 bucket. An empty URL disables the sink.
type InfluxConfig struct {
	URL    string `yaml:"url" json:"url" validate:"omitempty,url"`
	Org    string `yaml:"org" json:"org" validate:"required_with=URL"`
	Bucket string `yaml:"bucket" json:"bucket" validate:"required_with=URL"`

	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `yaml:"token_env" json:"token_env"`

	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// Enabled reports whether a URL is set.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// Influx writes run and ring points to InfluxDB.
//
// Thread Safety: Safe for concurrent use.
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInflux builds the client for cfg.
//
// Description:
//
//	The token is read from cfg.TokenEnv and sealed in a memguard enclave,
//	then opened only long enough to build the client.
//
// Outputs:
//
//	*Influx - The sink. Call Close when done.
//	error - ErrNotConfigured without a URL, or an enclave error.
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	token, err := sealToken(cfg.TokenEnv)
	if err != nil {
		return nil, err
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}

	var plain string
	if token != nil {
		buf, err := token.Open()
		if err != nil {
			return nil, fmt.Errorf("open influx token: %w", err)
		}
		plain = buf.String()
		defer buf.Destroy()
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, plain, opts)
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// sealToken moves the named variable into an enclave. Nil means no token.
func sealToken(env string) (*memguard.Enclave, error) {
	if env == "" {
		return nil, nil
	}
	value, ok := os.LookupEnv(env)
	if !ok || value == "" {
		return nil, fmt.Errorf("influx token: %s is not set", env)
	}
	return memguard.NewEnclave([]byte(value)), nil
}

// Name implements Sink.
func (s *Influx) Name() string { return "influx" }

// Publish implements Sink.
func (s *Influx) Publish(ctx context.Context, sum *store.Summary, rings []store.RingRecord) error {
	if err := s.writer.WritePoint(ctx, Points(sum, rings)...); err != nil {
		return fmt.Errorf("write influx points: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Influx) Close() {
	s.client.Close()
}

// Points converts a run into one peel_run point and one peel_ring point
// per ring, all stamped with the run start.
func Points(sum *store.Summary, rings []store.RingRecord) []*write.Point {
	at := sum.StartedAt
	points := make([]*write.Point, 0, len(rings)+1)
	points = append(points, influxdb2.NewPoint(
		"peel_run",
		map[string]string{
			"run_id": sum.ID,
			"status": string(sum.Status),
		},
		map[string]interface{}{
			"peeled":           sum.Peeled,
			"considered":       sum.Considered,
			"snr":              sum.Stats.SNR,
			"duration_seconds": sum.DurationSeconds,
		},
		at,
	))
	for _, r := range rings {
		points = append(points, influxdb2.NewPoint(
			"peel_ring",
			map[string]string{
				"run_id": sum.ID,
				"ring":   strconv.Itoa(r.Ring),
				"joint":  strconv.FormatBool(r.Joint),
			},
			map[string]interface{}{
				"residual_in":  r.ResidualIn,
				"residual_out": r.ResidualOut,
				"flags":        flaggedBaselines(r.Flags),
				"peel_flags":   flaggedBaselines(r.PeelFlags),
				"peeled":       r.Peeled,
				"singular":     len(r.Singular),
			},
			at,
		))
	}
	return points
}

func flaggedBaselines(reports []flagging.Report) int {
	n := 0
	for _, r := range reports {
		n += r.Baselines
	}
	return n
}
