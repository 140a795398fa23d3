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
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"math/cmplx"
	"os"

	"github.com/astrogo/fitsio"
)

// Metadata is written into the FITS header.
type Metadata struct {
	Object    string
	Frequency float64
	Observed  string
	RunID     string
}

// WriteFITS encodes the amplitude of im as a 32-bit float FITS image.
func WriteFITS(w io.Writer, im *Image, meta Metadata) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create fits: %w", err)
	}
	defer f.Close()

	hdu := fitsio.NewImage(-32, []int{im.Width, im.Height})
	defer hdu.Close()

	cards := []fitsio.Card{
		{Name: "BUNIT", Value: "arbitrary", Comment: "amplitude units"},
		{Name: "OBJECT", Value: meta.Object},
		{Name: "FREQ", Value: meta.Frequency, Comment: "observing frequency [Hz]"},
	}
	if meta.Observed != "" {
		cards = append(cards, fitsio.Card{Name: "DATE-OBS", Value: meta.Observed})
	}
	if meta.RunID != "" {
		cards = append(cards, fitsio.Card{Name: "RUNID", Value: meta.RunID, Comment: "peelcal run"})
	}
	if err := hdu.Header().Append(cards...); err != nil {
		return fmt.Errorf("fits header: %w", err)
	}

	pix := make([]float32, len(im.Pix))
	for i, v := range im.Pix {
		pix[i] = float32(cmplx.Abs(v))
	}
	if err := hdu.Write(pix); err != nil {
		return fmt.Errorf("fits pixels: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		return fmt.Errorf("write fits: %w", err)
	}
	return nil
}

// WritePNG encodes the amplitude of im as an 8-bit grayscale PNG scaled to
// the peak amplitude. With logScale the amplitude is log1p compressed
// first.
func WritePNG(w io.Writer, im *Image, logScale bool) error {
	out := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	peak := im.MaxAmplitude()
	if logScale {
		peak = math.Log1p(peak)
	}
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			a := cmplx.Abs(im.At(x, y))
			if logScale {
				a = math.Log1p(a)
			}
			var level uint8
			if peak > 0 {
				level = uint8(math.Round(255 * a / peak))
			}
			out.SetGray(x, y, color.Gray{Y: level})
		}
	}
	if err := png.Encode(w, out); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// SaveFITS writes im to path.
func SaveFITS(path string, im *Image, meta Metadata) error {
	return writeFile(path, func(w io.Writer) error { return WriteFITS(w, im, meta) })
}

// SavePNG writes im to path.
func SavePNG(path string, im *Image, logScale bool) error {
	return writeFile(path, func(w io.Writer) error { return WritePNG(w, im, logScale) })
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
