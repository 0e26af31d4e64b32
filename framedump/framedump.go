// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package framedump reads and writes raw snapshot dump files.
//
// A dump is a header followed by fixed size frames:
//
//	"RWND" | u32 LE frame size | frame*
//
// The whole stream might be wrapped into zstd, readers detect that automatically.
package framedump

import (
	"errors"
	"math"
)

var magic = [4]byte{'R', 'W', 'N', 'D'}

// zstd frame magic number, little endian 0xFD2FB528
var zstdMagic = [4]byte{0x28, 0xb5, 0x2f, 0xfd}

const (
	headerSize = 8

	// MaxFrameSize is the largest frame size a dump might declare.
	MaxFrameSize = math.MaxInt32 / 4
)

var (
	// ErrBadMagic is returned when the stream is not a frame dump.
	ErrBadMagic = errors.New("not a frame dump")

	// ErrFrameSize is returned for a frame of the wrong size.
	ErrFrameSize = errors.New("invalid frame size")

	// ErrTruncated is returned when the stream ends in the middle of the header or a frame.
	ErrTruncated = errors.New("truncated frame dump")
)
