// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imaging

import (
	"bytes"
	"context"
	"image/png"
	"math/cmplx"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

func constantImage(size int, v complex128) *Image {
	im := NewImage(size, size)
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

func TestPercentile(t *testing.T) {
	assert.InDelta(t, 4.96, Percentile([]float64{5, 1, 4, 2, 3}, 99), 1e-12)
	assert.Equal(t, 10.0, Percentile([]float64{10}, 99))
	assert.Equal(t, 0.0, Percentile(nil, 99))
	assert.Equal(t, 3.0, Percentile([]float64{1, 2, 3, 4, 5}, 50))
}

func TestPercentile_ClosestRanksNotCDFInterpolation(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 4.96, Percentile(values, 99), 1e-12)
	assert.NotEqual(t, Percentile(values, 99), stat.Quantile(0.99, stat.LinInterp, values, nil))
}

func TestScaleNinetyNinth_ZeroReferenceIsIdentity(t *testing.T) {
	data := visibility.NewTensor(1, 2)
	data.Set(0, 0, 0, 1, 0, 3+4i)

	got := ScaleNinetyNinth(NewImage(4, 4), constantImage(4, 1), data)
	assert.Equal(t, data, got)
	assert.NotSame(t, data, got)
}

func TestScaleNinetyNinth_MatchesPercentiles(t *testing.T) {
	data := visibility.NewTensor(1, 2)
	data.Set(0, 0, 0, 1, 0, 1i)

	got := ScaleNinetyNinth(constantImage(4, 6), constantImage(4, 2), data)
	assert.Equal(t, complex128(3i), got.At(0, 0, 0, 1, 0))

	same := ScaleNinetyNinth(constantImage(4, 6), NewImage(4, 4), data)
	assert.Equal(t, data, same, "zero source percentile leaves data unscaled")
}

func TestHorizonOverlay(t *testing.T) {
	im := NewImage(16, 16)
	im.Set(3, 3, 2)

	got := HorizonOverlay(im, 5)
	assert.Equal(t, complex128(2), got.At(13, 8))
	assert.Equal(t, complex128(2), got.At(8, 3))
	assert.Equal(t, complex128(0), got.At(8, 8))
	assert.Equal(t, complex128(0), im.At(13, 8), "input is not modified")
}

func TestHorizonRadius(t *testing.T) {
	assert.InDelta(t, 4.8677*47.004/2, HorizonRadius(47.004e6), 1e-9)
}

func TestGrid_PlacesSamples(t *testing.T) {
	vis := visibility.NewTensor(1, 2)
	vis.Set(0, 0, 0, 1, 0, 2+1i)
	vis.Set(0, 1, 0, 0, 0, 2-1i)
	uv := visibility.NewUV(2)
	uv.Set(0, 1, 1, -0.5)
	uv.Set(1, 0, -1, 0.5)

	grid, err := NearestNeighbor{Size: 8, Cell: 0.5}.Grid(vis, uv)
	require.NoError(t, err)
	assert.Equal(t, complex128(2+1i), grid.At(6, 3))
	assert.Equal(t, complex128(2-1i), grid.At(2, 5))

	_, err = NearestNeighbor{Size: 8, Cell: 0.5}.Grid(vis, visibility.NewUV(3))
	assert.ErrorIs(t, err, ErrUVMismatch)
	_, err = NearestNeighbor{}.Grid(vis, uv)
	assert.ErrorIs(t, err, ErrBadGrid)
}

func TestIFFT2_DeltaIsFlat(t *testing.T) {
	grid := NewImage(8, 8)
	grid.Set(4, 4, 1)

	img := IFFT2(grid)
	first := cmplx.Abs(img.Pix[0])
	require.Greater(t, first, 0.0)
	for _, v := range img.Pix {
		assert.InDelta(t, first, cmplx.Abs(v), 1e-12)
	}
}

func TestIFFT2_ShiftedDeltaIsFlatInAmplitude(t *testing.T) {
	grid := NewImage(8, 8)
	grid.Set(5, 4, 1)

	img := IFFT2(grid)
	first := cmplx.Abs(img.Pix[0])
	for _, v := range img.Pix {
		assert.InDelta(t, first, cmplx.Abs(v), 1e-12)
	}
}

func TestNearestNeighbor_Image(t *testing.T) {
	vis := visibility.NewTensor(1, 2)
	vis.Set(0, 0, 0, 0, 0, 1)
	img, err := NearestNeighbor{Size: 8, Cell: 1}.Image(context.Background(), vis, visibility.NewUV(2))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Width)
	assert.Greater(t, img.MaxAmplitude(), 0.0)
}

func TestComputeStats(t *testing.T) {
	im := NewImage(2, 2)
	im.Pix = []complex128{1, 1, 1, 5}

	st := ComputeStats(im)
	assert.InDelta(t, 5/2.0, st.SNR, 1e-12)
	assert.Equal(t, 5.0, st.Foreground.Max)
	assert.Equal(t, 1.0, st.Background.Max)
	assert.InDelta(t, 0, st.Background.StdDev, 1e-12)
	assert.InDelta(t, 1, st.Background.RMS, 1e-12)
}

func TestWritePNG(t *testing.T) {
	im := NewImage(4, 3)
	im.Set(1, 2, 10)
	im.Set(0, 0, 5)

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, im, false))

	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())
	assert.Equal(t, 3, decoded.Bounds().Dy())
	r, _, _, _ := decoded.At(1, 2).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestWriteFITS(t *testing.T) {
	im := constantImage(6, 2)

	var buf bytes.Buffer
	require.NoError(t, WriteFITS(&buf, im, Metadata{Object: "sky", Frequency: 47e6, RunID: "abc"}))
	require.NotZero(t, buf.Len())

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	hdr := f.HDU(0).Header()
	assert.Equal(t, []int{6, 6}, hdr.Axes())
	assert.Equal(t, -32, hdr.Bitpix())
}
