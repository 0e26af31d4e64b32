// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import (
	"encoding/binary"
	"math"
)

// Delta payload, everything counted in 16-bit words:
//
//	repeat {
//	  u16 changed
//	  if changed != 0 {
//	    u16 skip              // unchanged words before the run
//	    u16[changed] words    // values from the older snapshot
//	  } else {
//	    u32 unchanged         // little endian, 0 ends the payload
//	  }
//	}
//
// The payload turns the newer snapshot back into the older one.

const (
	maxRunWords  = math.MaxUint16
	terminatorSz = wordSize + 4
)

// maxPayloadSize is the worst case size of an encoded payload: every
// maxRunWords block costs one run header which isn't paid for by a skipped
// pair of words, plus the terminator.
func maxPayloadSize(recordSize int) int {
	blocks := (recordSize + maxRunWords*wordSize - 1) / (maxRunWords * wordSize)

	return recordSize + blocks*2*wordSize + terminatorSz
}

// encodeDelta writes the payload reverting newer to older into dst and
// returns its size.
//
// older and newer must be snapshots (with guard regions) of recordSize bytes,
// dst must hold maxPayloadSize(recordSize) bytes.
func encodeDelta(dst []byte, older, newer snapshot, recordSize int, sc scanner) int {
	var (
		n   int
		pos int // byte offset into the snapshots
	)

	remaining := recordSize / wordSize

	for remaining > 0 {
		skip := sc.findChange(older[pos:], newer[pos:])
		if skip >= remaining {
			break
		}

		if skip > maxRunWords {
			// longer runs are split, the next findChange rescans the rest
			unchanged := min(uint64(skip), math.MaxUint32)
			skip = int(unchanged)

			binary.LittleEndian.PutUint16(dst[n:], 0)
			binary.LittleEndian.PutUint32(dst[n+wordSize:], uint32(unchanged))
			n += terminatorSz

			pos += skip * wordSize
			remaining -= skip

			continue
		}

		pos += skip * wordSize
		remaining -= skip

		changed := min(sc.findSame(older[pos:], newer[pos:]), maxRunWords, remaining)

		binary.LittleEndian.PutUint16(dst[n:], uint16(changed))
		binary.LittleEndian.PutUint16(dst[n+wordSize:], uint16(skip))
		n += 2 * wordSize

		n += copy(dst[n:], older[pos:pos+changed*wordSize])

		pos += changed * wordSize
		remaining -= changed
	}

	clear(dst[n : n+terminatorSz])

	return n + terminatorSz
}

// applyDelta replays payload onto snapshot data and returns the payload size.
func applyDelta(data []byte, payload []byte) int {
	var (
		i   int // payload offset
		pos int // data offset
	)

	for {
		changed := int(binary.LittleEndian.Uint16(payload[i:]))

		if changed != 0 {
			pos += int(binary.LittleEndian.Uint16(payload[i+wordSize:])) * wordSize
			i += 2 * wordSize

			n := changed * wordSize
			copy(data[pos:pos+n], payload[i:i+n])

			i += n
			pos += n

			continue
		}

		unchanged := int(binary.LittleEndian.Uint32(payload[i+wordSize:]))
		i += terminatorSz

		if unchanged == 0 {
			return i
		}

		pos += unchanged * wordSize
	}
}
