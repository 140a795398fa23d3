// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package imaging grids visibilities onto the UV plane, inverts them to a
// sky image and encodes the result.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/AleutianAI/peelcal/services/peel/visibility"
)

// PixelDiameterPerMHz is the horizon diameter in pixels per MHz of
// observing frequency for the default grid.
const PixelDiameterPerMHz = 4.8677

var (
	// ErrBadGrid is returned for a non-positive grid size or cell.
	ErrBadGrid = errors.New("invalid imaging grid")

	// ErrUVMismatch is returned when UV coordinates do not match the data.
	ErrUVMismatch = errors.New("uv coordinates do not match visibilities")
)

// Image is a complex raster stored row-major.
type Image struct {
	Width  int
	Height int
	Pix    []complex128
}

// NewImage allocates a zero image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]complex128, width*height)}
}

// At returns the pixel at row y, column x.
func (im *Image) At(x, y int) complex128 {
	return im.Pix[y*im.Width+x]
}

// Set stores the pixel at row y, column x.
func (im *Image) Set(x, y int, v complex128) {
	im.Pix[y*im.Width+x] = v
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := NewImage(im.Width, im.Height)
	copy(out.Pix, im.Pix)
	return out
}

// Amplitudes returns |pixel| for every pixel.
func (im *Image) Amplitudes() []float64 {
	out := make([]float64, len(im.Pix))
	for i, v := range im.Pix {
		out[i] = cmplx.Abs(v)
	}
	return out
}

// MaxAmplitude returns the largest pixel amplitude.
func (im *Image) MaxAmplitude() float64 {
	var m float64
	for _, v := range im.Pix {
		if a := cmplx.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// Imager turns visibilities into a sky image.
type Imager interface {
	Image(ctx context.Context, vis *visibility.Tensor, uv *visibility.UV) (*Image, error)
}

// NearestNeighbor grids pol00 of the first time step by nearest pixel and
// inverts it with a 2-D inverse FFT.
type NearestNeighbor struct {
	// Size is the grid edge in pixels.
	Size int `yaml:"size" json:"size" validate:"gte=8"`

	// Cell is the UV cell size in wavelengths.
	Cell float64 `yaml:"cell" json:"cell" validate:"gt=0"`
}

// DefaultNearestNeighbor returns a 256 pixel grid with half-wavelength cells.
func DefaultNearestNeighbor() NearestNeighbor {
	return NearestNeighbor{Size: 256, Cell: 0.5}
}

// Image implements Imager.
func (g NearestNeighbor) Image(ctx context.Context, vis *visibility.Tensor, uv *visibility.UV) (*Image, error) {
	grid, err := g.Grid(vis, uv)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return IFFT2(grid), nil
}

// Grid accumulates pol00 samples of time step 0 onto the UV grid. The
// zero spacing lands on the center pixel; samples outside the grid are
// dropped.
func (g NearestNeighbor) Grid(vis *visibility.Tensor, uv *visibility.UV) (*Image, error) {
	if g.Size <= 0 || g.Cell <= 0 {
		return nil, fmt.Errorf("%w: size %d cell %g", ErrBadGrid, g.Size, g.Cell)
	}
	if vis == nil || uv == nil || uv.Stands != vis.Stands || vis.Times == 0 {
		return nil, ErrUVMismatch
	}
	grid := NewImage(g.Size, g.Size)
	center := g.Size / 2
	for a := 0; a < vis.Stands; a++ {
		for b := 0; b < vis.Stands; b++ {
			s := vis.At(0, a, 0, b, 0)
			if s == 0 {
				continue
			}
			u, v := uv.At(a, b)
			x := int(math.Round(u/g.Cell)) + center
			y := int(math.Round(v/g.Cell)) + center
			if x < 0 || x >= g.Size || y < 0 || y >= g.Size {
				continue
			}
			grid.Set(x, y, grid.At(x, y)+s)
		}
	}
	return grid, nil
}

// IFFT2 returns the normalized 2-D inverse transform of a centered grid,
// with the result shifted so the phase center is the middle pixel.
func IFFT2(grid *Image) *Image {
	w, h := grid.Width, grid.Height
	out := ifftShift(grid)

	rowFFT := fourier.NewCmplxFFT(w)
	colFFT := fourier.NewCmplxFFT(h)

	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(row, out.Pix[y*w:(y+1)*w])
		rowFFT.Sequence(row, row)
		copy(out.Pix[y*w:(y+1)*w], row)
	}

	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = out.Pix[y*w+x]
		}
		colFFT.Sequence(col, col)
		for y := 0; y < h; y++ {
			out.Pix[y*w+x] = col[y]
		}
	}

	// gonum leaves the inverse unnormalized.
	scale := complex(1/float64(w*h), 0)
	for i := range out.Pix {
		out.Pix[i] *= scale
	}
	return fftShift(out)
}

// fftShift moves the zero-frequency pixel to the center.
func fftShift(im *Image) *Image {
	return roll(im, im.Width/2, im.Height/2)
}

// ifftShift undoes fftShift.
func ifftShift(im *Image) *Image {
	return roll(im, -(im.Width / 2), -(im.Height / 2))
}

func roll(im *Image, dx, dy int) *Image {
	out := NewImage(im.Width, im.Height)
	for y := 0; y < im.Height; y++ {
		ny := mod(y+dy, im.Height)
		for x := 0; x < im.Width; x++ {
			out.Pix[ny*im.Width+mod(x+dx, im.Width)] = im.Pix[y*im.Width+x]
		}
	}
	return out
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// Percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks, rank (n-1)*p/100 (Hyndman-Fan
// type 7). stat.Quantile offers only the empirical and type 4 estimators,
// which put the 99th percentile of small images noticeably lower.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	h := (float64(len(sorted)) - 1) * p / 100
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// ScaleNinetyNinth scales data so that the 99th-percentile amplitude of
// src matches that of dst.
//
// Description:
//
//	dst is the reference image and src is the image made from data.
//	When dst is all-zero, or src has a zero 99th percentile, an unscaled
//	copy of data is returned.
func ScaleNinetyNinth(dst, src *Image, data *visibility.Tensor) *visibility.Tensor {
	if dst.MaxAmplitude() == 0 {
		return data.Clone()
	}
	ref := Percentile(dst.Amplitudes(), 99)
	have := Percentile(src.Amplitudes(), 99)
	if have == 0 {
		return data.Clone()
	}
	return data.Scale(complex(ref/have, 0))
}

// HorizonRadius returns the horizon radius in pixels at freq (Hz).
func HorizonRadius(freq float64) float64 {
	return PixelDiameterPerMHz * freq / 2e6
}

// HorizonOverlay returns a copy of im with every pixel within one pixel
// of the given radius from the center set to the maximum amplitude.
func HorizonOverlay(im *Image, radius float64) *Image {
	out := im.Clone()
	peak := complex(im.MaxAmplitude(), 0)
	cx, cy := float64(im.Width/2), float64(im.Height/2)
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			if math.Abs(d-radius) < 1 {
				out.Set(x, y, peak)
			}
		}
	}
	return out
}
