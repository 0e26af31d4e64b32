// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/sys/cpu"
)

// ScanStrategy selects the implementation of the change detection loops.
type ScanStrategy int

// Scan strategies.
const (
	// ScanAuto picks ScanWide when the CPU supports 128-bit vectors, ScanScalar otherwise.
	ScanAuto ScanStrategy = iota
	// ScanScalar compares 64 bits at a time, then single words.
	ScanScalar
	// ScanWide compares 128 bits at a time and locates the word from the XOR mask.
	ScanWide
)

func (s ScanStrategy) String() string {
	switch s {
	case ScanAuto:
		return "auto"
	case ScanScalar:
		return "scalar"
	case ScanWide:
		return "wide"
	default:
		return "unknown"
	}
}

// scanner is the pair of loops driving the delta encoder.
//
// Both loops rely on the guard region of a snapshot to stop: they never check
// the length, so they must only be called on snapshot slices.
type scanner struct {
	// findChange returns the index of the first word which differs in a and b.
	findChange func(a, b []byte) int

	// findSame returns the index of the first run of at least two words which
	// are the same in a and b. Word pairs are aligned to the start of the scan,
	// so a run of exactly two words might be missed; a run of three never is.
	// a[0] and b[0] must differ.
	findSame func(a, b []byte) int

	strategy ScanStrategy
}

func detectScanStrategy() ScanStrategy {
	if cpu.X86.HasSSE2 || cpu.ARM64.HasASIMD {
		return ScanWide
	}

	return ScanScalar
}

func newScanner(strategy ScanStrategy) scanner {
	if strategy == ScanAuto {
		strategy = detectScanStrategy()
	}

	if strategy == ScanWide {
		return scanner{
			findChange: findChangeWide,
			findSame:   findSameWide,
			strategy:   ScanWide,
		}
	}

	return scanner{
		findChange: findChangeScalar,
		findSame:   findSameScalar,
		strategy:   ScanScalar,
	}
}

func findChangeScalar(a, b []byte) int {
	i := 0

	for binary.LittleEndian.Uint64(a[i:]) == binary.LittleEndian.Uint64(b[i:]) {
		i += 8
	}

	for binary.LittleEndian.Uint16(a[i:]) == binary.LittleEndian.Uint16(b[i:]) {
		i += wordSize
	}

	return i / wordSize
}

func findChangeWide(a, b []byte) int {
	for i := 0; ; i += 16 {
		lo := binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:])
		hi := binary.LittleEndian.Uint64(a[i+8:]) ^ binary.LittleEndian.Uint64(b[i+8:])

		if lo|hi == 0 {
			continue
		}

		if lo != 0 {
			return i/wordSize + bits.TrailingZeros64(lo)/16
		}

		return (i+8)/wordSize + bits.TrailingZeros64(hi)/16
	}
}

func findSameScalar(a, b []byte) int {
	i := 0

	for binary.LittleEndian.Uint32(a[i:]) != binary.LittleEndian.Uint32(b[i:]) {
		i += 4
	}

	return stepBack(a, b, i)
}

func findSameWide(a, b []byte) int {
	i := 0

	for {
		x := binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:])

		if uint32(x) == 0 {
			break
		}

		if x>>32 == 0 {
			i += 4

			break
		}

		i += 8
	}

	return stepBack(a, b, i)
}

// stepBack extends a run of identical words found at byte offset i by the
// preceding word, if that one is identical too.
func stepBack(a, b []byte, i int) int {
	if i > 0 && binary.LittleEndian.Uint16(a[i-wordSize:]) == binary.LittleEndian.Uint16(b[i-wordSize:]) {
		i -= wordSize
	}

	return i / wordSize
}
