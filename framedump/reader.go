// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package framedump

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Reader reads frames from a dump.
type Reader struct {
	r    io.Reader
	dec  *zstd.Decoder
	file *os.File

	frameSize int
	frames    int

	compressed bool
}

// NewReader reads the dump header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	dr := &Reader{
		r: br,
	}

	peek, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(peek, zstdMagic[:]) {
		// a single goroutine keeps the stream decoding synchronous
		dr.dec, err = zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %w", err)
		}

		dr.r = dr.dec
		dr.compressed = true
	}

	if err = dr.readHeader(); err != nil {
		dr.closeDecoder()

		return nil, err
	}

	return dr, nil
}

// Open opens the dump at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dr, err := NewReader(f)
	if err != nil {
		f.Close() //nolint:errcheck

		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	dr.file = f

	return dr, nil
}

func (dr *Reader) readHeader() error {
	var header [headerSize]byte

	if _, err := io.ReadFull(dr.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: header", ErrTruncated)
		}

		return fmt.Errorf("failed to read header: %w", err)
	}

	if !bytes.Equal(header[:4], magic[:]) {
		return ErrBadMagic
	}

	frameSize := binary.LittleEndian.Uint32(header[4:])
	if frameSize == 0 || frameSize > MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrFrameSize, frameSize)
	}

	dr.frameSize = int(frameSize)

	return nil
}

// FrameSize returns the size of every frame.
func (dr *Reader) FrameSize() int {
	return dr.frameSize
}

// Compressed reports whether the dump is a zstd stream.
func (dr *Reader) Compressed() bool {
	return dr.compressed
}

// Frames returns the number of frames read so far.
func (dr *Reader) Frames() int {
	return dr.frames
}

// Next reads the following frame into dst, which must be FrameSize bytes.
//
// Next returns io.EOF after the last frame.
func (dr *Reader) Next(dst []byte) error {
	if len(dst) != dr.frameSize {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrFrameSize, len(dst), dr.frameSize)
	}

	if _, err := io.ReadFull(dr.r, dst); err != nil {
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("%w: frame %d", ErrTruncated, dr.frames)
		case errors.Is(err, io.EOF):
			return io.EOF
		default:
			return fmt.Errorf("failed to read frame %d: %w", dr.frames, err)
		}
	}

	dr.frames++

	return nil
}

// Close releases the decoder and closes the file opened by Open.
func (dr *Reader) Close() error {
	dr.closeDecoder()

	if dr.file != nil {
		f := dr.file
		dr.file = nil

		return f.Close()
	}

	return nil
}

func (dr *Reader) closeDecoder() {
	if dr.dec != nil {
		dr.dec.Close()
		dr.dec = nil
	}
}
