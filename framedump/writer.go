// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package framedump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Options defines settings for Writer.
type Options struct {
	EncoderOptions []zstd.EOption

	Compression bool
}

// OptionFunc allows setting Writer options.
type OptionFunc func(*Options) error

// WithCompression wraps the dump into a zstd stream.
func WithCompression(opts ...zstd.EOption) OptionFunc {
	return func(opt *Options) error {
		opt.Compression = true
		opt.EncoderOptions = append(opt.EncoderOptions, opts...)

		return nil
	}
}

// Writer writes frames to a dump.
type Writer struct {
	w   io.Writer
	enc *zstd.Encoder

	// set by Create
	file    *os.File
	bw      *bufio.Writer
	path    string
	tmpPath string

	frameSize int
	frames    int

	closed bool
}

// NewWriter writes the dump header to w and returns a Writer for frames of frameSize bytes.
//
// Close must be called to flush the compressed stream; it doesn't close w.
func NewWriter(w io.Writer, frameSize int, opts ...OptionFunc) (*Writer, error) {
	var opt Options

	for _, o := range opts {
		if err := o(&opt); err != nil {
			return nil, err
		}
	}

	if frameSize <= 0 || frameSize > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameSize, frameSize)
	}

	dw := &Writer{
		w:         w,
		frameSize: frameSize,
	}

	if opt.Compression {
		enc, err := zstd.NewWriter(w, append([]zstd.EOption{zstd.WithEncoderConcurrency(1)}, opt.EncoderOptions...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder: %w", err)
		}

		dw.enc = enc
		dw.w = enc
	}

	var header [headerSize]byte

	copy(header[:], magic[:])
	binary.LittleEndian.PutUint32(header[4:], uint32(frameSize))

	if _, err := dw.w.Write(header[:]); err != nil {
		if dw.enc != nil {
			dw.enc.Close() //nolint:errcheck
		}

		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return dw, nil
}

// Create writes a dump to path.
//
// Frames go to a temporary file next to path, which replaces path on Close.
func Create(path string, frameSize int, opts ...OptionFunc) (*Writer, error) {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	bw := bufio.NewWriter(f)

	dw, err := NewWriter(bw, frameSize, opts...)
	if err != nil {
		f.Close()          //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck

		return nil, err
	}

	dw.file = f
	dw.bw = bw
	dw.path = path
	dw.tmpPath = tmpPath

	return dw, nil
}

// WriteFrame appends a frame, which must be exactly FrameSize bytes.
func (dw *Writer) WriteFrame(frame []byte) error {
	if dw.closed {
		return os.ErrClosed
	}

	if len(frame) != dw.frameSize {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrFrameSize, len(frame), dw.frameSize)
	}

	if _, err := dw.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", dw.frames, err)
	}

	dw.frames++

	return nil
}

// FrameSize returns the size of every frame.
func (dw *Writer) FrameSize() int {
	return dw.frameSize
}

// Frames returns the number of frames written so far.
func (dw *Writer) Frames() int {
	return dw.frames
}

// Close flushes the dump.
//
// For a Writer returned by Create, the file is moved into place only if
// everything was flushed successfully.
func (dw *Writer) Close() error {
	if dw.closed {
		return nil
	}

	dw.closed = true

	var err error

	if dw.enc != nil {
		if e := dw.enc.Close(); e != nil {
			err = fmt.Errorf("failed to flush compressed stream: %w", e)
		}
	}

	if dw.file == nil {
		return err
	}

	if err == nil {
		if e := dw.bw.Flush(); e != nil {
			err = fmt.Errorf("failed to flush temporary file: %w", e)
		}
	}

	if e := dw.file.Close(); e != nil && err == nil {
		err = fmt.Errorf("failed to close temporary file: %w", e)
	}

	if err != nil {
		return errors.Join(err, os.Remove(dw.tmpPath))
	}

	if err = os.Rename(dw.tmpPath, dw.path); err != nil {
		os.Remove(dw.tmpPath) //nolint:errcheck

		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
