// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/peelcal/services/peel/config"
	"github.com/AleutianAI/peelcal/services/peel/sink"
)

func TestOpenSinks(t *testing.T) {
	sinks, closeAll, err := OpenSinks(context.Background(), config.SinksConfig{})
	require.NoError(t, err)
	assert.Empty(t, sinks)
	closeAll()

	sinks, closeAll, err = OpenSinks(context.Background(), config.SinksConfig{
		Influx: sink.InfluxConfig{URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"},
	})
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, "influx", sinks[0].Name())
	closeAll()
}

func TestOpenSinks_Error(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "key.json")
	sinks, closeAll, err := OpenSinks(context.Background(), config.SinksConfig{
		Influx: sink.InfluxConfig{URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"},
		GCS:    sink.GCSConfig{Bucket: "b", CredentialsFile: missing},
	})
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, sinks)
	require.NotNil(t, closeAll)
	closeAll()
}
