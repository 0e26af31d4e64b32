// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import "encoding/binary"

const (
	// the codec works on 16-bit little endian words
	wordSize = 2

	// guard region after the snapshot data: three zero words stop findSame,
	// the fourth word (different in current and staging) stops findChange,
	// and the padding keeps the wide loads inside the slice
	guardWords   = 4
	guardPadding = 16
	guardSize    = guardWords*wordSize + guardPadding
)

// snapshot is a recordSize data area followed by the guard region.
type snapshot []byte

func newSnapshot(recordSize int, sentinel uint16) snapshot {
	s := make(snapshot, recordSize+guardSize)

	binary.LittleEndian.PutUint16(s[recordSize+(guardWords-1)*wordSize:], sentinel)

	return s
}

// data returns the first n bytes, capped so that appends can't reach the guard.
func (s snapshot) data(n int) []byte {
	return s[:n:n]
}
