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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/peelcal/services/peel/flagging"
	"github.com/AleutianAI/peelcal/services/peel/imaging"
	"github.com/AleutianAI/peelcal/services/peel/store"
)

func testRun() (*store.Summary, []store.RingRecord) {
	sum := &store.Summary{
		ID:              "abc",
		Status:          store.StatusSucceeded,
		StartedAt:       time.Date(2015, 4, 9, 14, 34, 51, 0, time.UTC),
		DurationSeconds: 2.5,
		Considered:      3,
		Peeled:          2,
		Stats:           imaging.Stats{SNR: 12},
	}
	rings := []store.RingRecord{
		{Ring: 0, Joint: true, Peeled: true, ResidualIn: 10, ResidualOut: 2,
			Flags: []flagging.Report{{Flagger: "self", Baselines: 3}, {Flagger: "upper", Baselines: 1}}},
		{Ring: 1, Peeled: true, ResidualIn: 2, ResidualOut: 1, Singular: []int{4}},
	}
	return sum, rings
}

func TestPoints(t *testing.T) {
	sum, rings := testRun()
	points := Points(sum, rings)
	require.Len(t, points, 3)
	assert.Equal(t, "peel_run", points[0].Name())
	assert.Equal(t, "peel_ring", points[1].Name())
	assert.Equal(t, "peel_ring", points[2].Name())
	assert.Equal(t, sum.StartedAt, points[1].Time())
}

func TestNewInflux_NotConfigured(t *testing.T) {
	_, err := NewInflux(InfluxConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewInflux_MissingToken(t *testing.T) {
	t.Setenv("PEEL_TEST_INFLUX_TOKEN", "")
	_, err := NewInflux(InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b", TokenEnv: "PEEL_TEST_INFLUX_TOKEN"})
	assert.ErrorContains(t, err, "PEEL_TEST_INFLUX_TOKEN")
}

func TestInflux_Publish(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body += strings.TrimSpace(string(data)) + "\n"
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	t.Setenv("PEEL_TEST_INFLUX_TOKEN", "s3cret")
	s, err := NewInflux(InfluxConfig{URL: srv.URL, Org: "o", Bucket: "b", TokenEnv: "PEEL_TEST_INFLUX_TOKEN"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "influx", s.Name())

	sum, rings := testRun()
	require.NoError(t, s.Publish(context.Background(), sum, rings))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Token s3cret", auth)
	assert.Contains(t, body, "peel_run,")
	assert.Contains(t, body, "run_id=abc")
	assert.Contains(t, body, "ring=1")
	assert.Len(t, strings.Split(strings.TrimSpace(body), "\n"), 3)
}

func TestInflux_PublishServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid","message":"bad line"}`))
	}))
	defer srv.Close()

	s, err := NewInflux(InfluxConfig{URL: srv.URL, Org: "o", Bucket: "b"})
	require.NoError(t, err)
	defer s.Close()

	sum, rings := testRun()
	assert.Error(t, s.Publish(context.Background(), sum, rings))
}

type memObject struct {
	bytes.Buffer
	closed bool
}

func (m *memObject) Close() error {
	m.closed = true
	return nil
}

func TestGCS_Publish(t *testing.T) {
	dir := t.TempDir()
	fitsPath := filepath.Join(dir, "abc.fits")
	pngPath := filepath.Join(dir, "abc.png")
	require.NoError(t, os.WriteFile(fitsPath, []byte("SIMPLE"), 0600))
	require.NoError(t, os.WriteFile(pngPath, []byte("PNG"), 0600))

	objects := map[string]*memObject{}
	open := func(_ context.Context, bucket, object string) io.WriteCloser {
		o := &memObject{}
		objects[bucket+"/"+object] = o
		return o
	}
	s := newGCS(GCSConfig{Bucket: "bkt", Prefix: "/runs/"}, open, nil)
	assert.Equal(t, "gcs", s.Name())

	sum, _ := testRun()
	sum.Outputs = map[string]string{"fits": fitsPath, "png": pngPath}
	require.NoError(t, s.Publish(context.Background(), sum, nil))

	assert.Equal(t, "gs://bkt/runs/abc/abc.fits", sum.Outputs["gcs_fits"])
	assert.Equal(t, "gs://bkt/runs/abc/abc.png", sum.Outputs["gcs_png"])
	require.Contains(t, objects, "bkt/runs/abc/abc.fits")
	assert.Equal(t, "SIMPLE", objects["bkt/runs/abc/abc.fits"].String())
	assert.True(t, objects["bkt/runs/abc/abc.png"].closed)
	assert.NoError(t, s.Close())
}

func TestGCS_PublishMissingFile(t *testing.T) {
	open := func(context.Context, string, string) io.WriteCloser { return &memObject{} }
	s := newGCS(GCSConfig{Bucket: "bkt"}, open, nil)

	sum, _ := testRun()
	sum.Outputs = map[string]string{"fits": filepath.Join(t.TempDir(), "gone.fits")}
	assert.Error(t, s.Publish(context.Background(), sum, nil))
	assert.NotContains(t, sum.Outputs, "gcs_fits")
}

func TestNewGCS_Errors(t *testing.T) {
	_, err := NewGCS(context.Background(), GCSConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewGCS(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: filepath.Join(t.TempDir(), "key.json")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/fits", contentType("a/b.FITS"))
	assert.Equal(t, "image/png", contentType("x.png"))
	assert.Equal(t, "application/octet-stream", contentType("x.vis"))
}
