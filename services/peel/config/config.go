// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates peelcal configuration.
//
// A configuration file is YAML. Load starts from DefaultConfig and
// decodes the file over it, so a file only names what it changes:
//
//	frequency: 47.004e6
//	array:
//	  layout: layouts/ovro.txt
//	  bad_stands: [5, 17]
//	peeling:
//	  rings: 4
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/peelcal/pkg/logging"
	"github.com/AleutianAI/peelcal/services/peel/catalog"
	"github.com/AleutianAI/peelcal/services/peel/dag"
	"github.com/AleutianAI/peelcal/services/peel/ephem"
	"github.com/AleutianAI/peelcal/services/peel/flagging"
	"github.com/AleutianAI/peelcal/services/peel/gain"
	"github.com/AleutianAI/peelcal/services/peel/imaging"
	"github.com/AleutianAI/peelcal/services/peel/peeling"
	"github.com/AleutianAI/peelcal/services/peel/sink"
	"github.com/AleutianAI/peelcal/services/peel/store"
	"github.com/AleutianAI/peelcal/services/peel/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultFrequency is the operating frequency when none is configured.
const DefaultFrequency = 47.004e6

// Config is the full peelcal configuration.
type Config struct {
	Observer  ephem.Observer      `yaml:"observer" json:"observer"`
	Frequency float64             `yaml:"frequency" json:"frequency" validate:"gt=0"`
	Catalog   CatalogConfig       `yaml:"catalog" json:"catalog"`
	Array     ArrayConfig         `yaml:"array" json:"array"`
	Flagging  flagging.Thresholds `yaml:"flagging" json:"flagging"`
	Solver    gain.Params         `yaml:"solver" json:"solver"`
	Peeling   PeelingConfig       `yaml:"peeling" json:"peeling"`
	Imaging   ImagingConfig       `yaml:"imaging" json:"imaging"`
	Telemetry telemetry.Config    `yaml:"telemetry" json:"telemetry"`
	Store     store.Config        `yaml:"store" json:"store"`
	Logging   LoggingConfig       `yaml:"logging" json:"logging"`
	Server    ServerConfig        `yaml:"server" json:"server"`
	Sinks     SinksConfig         `yaml:"sinks" json:"sinks"`
	Watch     WatchConfig         `yaml:"watch" json:"watch"`
}

// CatalogConfig locates the source catalog and selects candidates.
type CatalogConfig struct {
	// Path is the catalog file.
	Path string `yaml:"path" json:"path"`

	catalog.Options `yaml:",inline"`

	Selection catalog.Selection `yaml:"selection" json:"selection"`
}

// ArrayConfig locates the antenna layout.
type ArrayConfig struct {
	// Layout is the "x y z" layout file.
	Layout string `yaml:"layout" json:"layout"`

	BadStands []int `yaml:"bad_stands" json:"bad_stands" validate:"dive,gte=0"`
}

// PeelingConfig controls ring assignment and stage execution.
type PeelingConfig struct {
	// Rings is the number of sources to peel.
	Rings int `yaml:"rings" json:"rings" validate:"gte=1"`

	// Joint replaces the brightest source with the Cyg A + Cas A model.
	Joint bool `yaml:"joint" json:"joint"`

	// Normalize divides the input by its nonzero median.
	Normalize bool `yaml:"normalize" json:"normalize"`

	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout" validate:"gt=0"`
}

// ImagingConfig sets the gridder and the image outputs.
type ImagingConfig struct {
	imaging.NearestNeighbor `yaml:",inline"`

	// OutputDir receives "<run id>.fits" and "<run id>.png".
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	FITS bool `yaml:"fits" json:"fits"`
	PNG  bool `yaml:"png" json:"png"`

	// LogScale writes the PNG with logarithmic amplitude.
	LogScale bool `yaml:"log_scale" json:"log_scale"`
}

// LoggingConfig selects log level, format and file output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format" validate:"oneof=auto text json"`
	Dir    string `yaml:"dir" json:"dir"`
	Quiet  bool   `yaml:"quiet" json:"quiet"`
}

// ServerConfig sets the results API listener.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`

	// RateLimit is requests per second across /v1. Zero disables it.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" json:"burst" validate:"gte=0"`
}

// SinksConfig lists the optional places a finished run is published.
type SinksConfig struct {
	Influx sink.InfluxConfig `yaml:"influx" json:"influx"`
	GCS    sink.GCSConfig    `yaml:"gcs" json:"gcs"`
}

// WatchConfig drives "peelcal watch".
type WatchConfig struct {
	Dir      string        `yaml:"dir" json:"dir"`
	Pattern  string        `yaml:"pattern" json:"pattern" validate:"required"`
	Debounce time.Duration `yaml:"debounce" json:"debounce" validate:"gt=0"`
}

// DefaultConfig returns a configuration that validates once a layout and
// catalog are named.
func DefaultConfig() Config {
	return Config{
		Observer:  ephem.OVRO(time.Now().UTC().Truncate(time.Second)),
		Frequency: DefaultFrequency,
		Catalog: CatalogConfig{
			Options:   catalog.DefaultOptions(),
			Selection: catalog.DefaultSelection(),
		},
		Flagging: flagging.DefaultThresholds(),
		Solver:   gain.DefaultParams(),
		Peeling: PeelingConfig{
			Rings:        3,
			Joint:        true,
			Normalize:    true,
			StageTimeout: dag.DefaultNodeTimeout,
		},
		Imaging: ImagingConfig{
			NearestNeighbor: imaging.DefaultNearestNeighbor(),
			OutputDir:       "out",
			FITS:            true,
			PNG:             true,
		},
		Telemetry: telemetry.DefaultConfig(),
		Store:     store.DefaultConfig("data/runs"),
		Logging:   LoggingConfig{Level: "info", Format: "auto"},
		Server: ServerConfig{
			Addr:            ":8090",
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			Burst:           40,
		},
		Watch: WatchConfig{Pattern: "*.vis", Debounce: 2 * time.Second},
	}
}

// Load reads path over DefaultConfig and validates the result.
//
// Inputs:
//
//	path - YAML file. Empty returns the validated defaults.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - A read or decode error, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode strictly decodes YAML into cfg. Unknown keys are errors.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

var validate = validator.New()

// Validate checks struct tags and cross-field rules.
func Validate(cfg Config) error {
	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	if cfg.Observer.Time.IsZero() {
		problems = append(problems, "observer.time is required")
	}
	if cfg.Flagging.Lower >= cfg.Flagging.Upper {
		problems = append(problems, "flagging.lower must be below flagging.upper")
	}
	if !cfg.Store.InMemory && cfg.Store.Path == "" {
		problems = append(problems, "store.path is required unless store.in_memory is set")
	}
	if cfg.Imaging.Size&(cfg.Imaging.Size-1) != 0 {
		problems = append(problems, "imaging.size must be a power of two")
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.Burst < 1 {
		problems = append(problems, "server.burst must be at least 1 when server.rate_limit is set")
	}
	if _, err := filepath.Match(cfg.Watch.Pattern, ""); err != nil {
		problems = append(problems, fmt.Sprintf("watch.pattern: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Observation returns the resource attributes telemetry reports for this
// configuration.
func (c Config) Observation(version string) telemetry.Observation {
	return telemetry.Observation{
		Version:   version,
		Observer:  c.Observer,
		Frequency: c.Frequency,
	}
}

// PeelOptions returns the controller settings.
func (c Config) PeelOptions() peeling.Options {
	opts := peeling.DefaultOptions(c.Frequency)
	opts.Thresholds = c.Flagging
	opts.Solver = c.Solver
	opts.Normalize = c.Peeling.Normalize
	opts.StageTimeout = c.Peeling.StageTimeout
	return opts
}

// PlanOptions returns the ring assignment settings.
func (c Config) PlanOptions() peeling.PlanOptions {
	opts := peeling.PlanOptions{Rings: c.Peeling.Rings}
	if c.Peeling.Joint {
		opts.Joint = catalog.JointCalibrators()
	}
	return opts
}

// Logger builds the process logger.
func (l LoggingConfig) Logger(service string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		Format:  format,
		LogDir:  l.Dir,
		Service: service,
		Quiet:   l.Quiet,
	}), nil
}
