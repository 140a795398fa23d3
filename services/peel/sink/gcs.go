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
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/peelcal/services/peel/store"
)

// GCSConfig selects a Cloud Storage bucket. An empty bucket disables the sink.
type GCSConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Prefix string `yaml:"prefix" json:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// Enabled reports whether a bucket is set.
func (c GCSConfig) Enabled() bool {
	return c.Bucket != ""
}

// objectOpener returns a writer for bucket/object.
type objectOpener func(ctx context.Context, bucket, object string) io.WriteCloser

// GCS uploads run outputs to Cloud Storage.
type GCS struct {
	bucket string
	prefix string
	open   objectOpener
	close  func() error
}

// NewGCS connects to Cloud Storage.
//
// Inputs:
//
//	ctx - Used to build the client.
//	cfg - Bucket, prefix and optional credentials.
//
// Outputs:
//
//	*GCS - The sink. Call Close when done.
//	error - ErrNotConfigured without a bucket, a missing key file, or a
//	        client error.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	open := func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType(object)
		return w
	}
	return newGCS(cfg, open, client.Close), nil
}

func newGCS(cfg GCSConfig, open objectOpener, closeFn func() error) *GCS {
	return &GCS{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		open:   open,
		close:  closeFn,
	}
}

// Name implements Sink.
func (s *GCS) Name() string { return "gcs" }

// Publish uploads each local output and records its gs:// URL under
// "gcs_<kind>".
func (s *GCS) Publish(ctx context.Context, sum *store.Summary, _ []store.RingRecord) error {
	kinds := make([]string, 0, len(sum.Outputs))
	for kind := range sum.Outputs {
		if !strings.HasPrefix(kind, "gcs_") {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		local := sum.Outputs[kind]
		object := s.ObjectName(sum.ID, local)
		if err := s.upload(ctx, local, object); err != nil {
			return err
		}
		sum.Outputs["gcs_"+kind] = "gs://" + s.bucket + "/" + object
	}
	return nil
}

// ObjectName is <prefix>/<run id>/<base name of local>.
func (s *GCS) ObjectName(runID, local string) string {
	return path.Join(s.prefix, runID, filepath.Base(local))
}

func (s *GCS) upload(ctx context.Context, local, object string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	w := s.open(ctx, s.bucket, object)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s to gs://%s/%s: %w", local, s.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish gs://%s/%s: %w", s.bucket, object, err)
	}
	return nil
}

// Close releases the client.
func (s *GCS) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".fits":
		return "application/fits"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
