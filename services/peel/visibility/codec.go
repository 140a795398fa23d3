// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visibility

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// fileMagic identifies a visibility file.
var fileMagic = [4]byte{'P', 'C', 'V', 'S'}

// fileVersion is the current on-disk format version.
const fileVersion uint16 = 1

// maxFileStands bounds the antenna count accepted from a file header.
const maxFileStands = 1 << 14

type fileHeader struct {
	Magic   [4]byte
	Version uint16
	_       uint16
	Times   uint32
	Stands  uint32
}

// Encode writes t in the little-endian visibility file format:
// header (magic, version, times, stands) followed by real/imaginary
// float64 pairs in tensor order.
func Encode(w io.Writer, t *Tensor) error {
	bw := bufio.NewWriter(w)
	hdr := fileHeader{
		Magic:   fileMagic,
		Version: fileVersion,
		Times:   uint32(t.Times),
		Stands:  uint32(t.Stands),
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	pair := make([]float64, 2)
	for _, v := range t.Data {
		pair[0], pair[1] = real(v), imag(v)
		if err := binary.Write(bw, binary.LittleEndian, pair); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}
	return bw.Flush()
}

// Decode reads a tensor written by Encode.
func Decode(r io.Reader) (*Tensor, error) {
	br := bufio.NewReader(r)
	var hdr fileHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != fileMagic {
		return nil, ErrBadMagic
	}
	if hdr.Version != fileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	if hdr.Stands == 0 || hdr.Stands > maxFileStands || hdr.Times == 0 {
		return nil, fmt.Errorf("%w: times=%d stands=%d", ErrShapeMismatch, hdr.Times, hdr.Stands)
	}
	t := NewTensor(int(hdr.Times), int(hdr.Stands))
	pair := make([]float64, 2)
	for i := range t.Data {
		if err := binary.Read(br, binary.LittleEndian, pair); err != nil {
			return nil, fmt.Errorf("read sample %d: %w", i, err)
		}
		t.Data[i] = complex(pair[0], pair[1])
	}
	return t, nil
}

// ReadFile decodes the visibility file at path.
func ReadFile(path string) (*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open visibilities: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// WriteFile encodes t to path, replacing any existing file.
func WriteFile(path string, t *Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create visibilities: %w", err)
	}
	if err := Encode(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
