// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import "encoding/binary"

// offset is a byte position in the arena.
type offset int

// size of a stored offset
const offsetSize = 8

// ring keeps variable sized records in a fixed arena.
//
// Record layout:
//
//	u64 next   // offset of the following record
//	payload
//	u64 start  // offset of this record, read by pop through head
//
// If a record ends too close to the end of the arena, its start link is
// written at offset 0 instead and the next record begins at offsetSize. The
// live region is [tail, head), possibly wrapping; head == tail means empty.
type ring struct {
	arena []byte

	head offset
	tail offset

	// worst case size of a record including both links
	maxRecord int
}

func newRing(capacity, maxRecord int) ring {
	return ring{
		arena:     make([]byte, capacity),
		head:      offsetSize,
		tail:      offsetSize,
		maxRecord: maxRecord,
	}
}

func (r *ring) capacity() int {
	return len(r.arena)
}

func (r *ring) empty() bool {
	return r.head == r.tail
}

func (r *ring) readOffset(at offset) offset {
	return offset(binary.LittleEndian.Uint64(r.arena[at : at+offsetSize]))
}

func (r *ring) writeOffset(at, v offset) {
	binary.LittleEndian.PutUint64(r.arena[at:at+offsetSize], uint64(v))
}

// remaining returns the free space between head and tail.
func (r *ring) remaining() int {
	c := r.capacity()

	return ((int(r.tail)+c-offsetSize-int(r.head)-1)%c+c)%c + 1
}

// mightWrap reports whether a record appended at head could end up wrapping.
func (r *ring) mightWrap() bool {
	return int(r.head)+2*r.maxRecord-offsetSize > r.capacity()
}

// dropTail drops the oldest record.
func (r *ring) dropTail() {
	r.tail = r.readOffset(r.tail)
}

// reserve drops the oldest records until a worst case record fits at head,
// and returns the number of records dropped.
//
// When the live region wraps, a record which wraps itself would restart at
// the arena start on top of live records, so the records at the end of the
// arena are dropped first.
func (r *ring) reserve() int {
	var dropped int

	for !r.empty() && (r.remaining() <= r.maxRecord || (r.tail > r.head && r.mightWrap())) {
		r.dropTail()
		dropped++
	}

	return dropped
}

// payload returns the area for the payload of the record at head.
func (r *ring) payload() []byte {
	start := int(r.head) + offsetSize
	end := int(r.head) + r.maxRecord - offsetSize

	return r.arena[start:end:end]
}

// commit links the payload of n bytes written into payload().
//
// It returns whether the arena wrapped and the number of records dropped
// because of that.
func (r *ring) commit(n int) (wrapped bool, dropped int) {
	end := r.head + offsetSize + offset(n)

	if int(end)+r.maxRecord > r.capacity() {
		end = 0
		wrapped = true

		// the next record starts where the tail is, drop it so that
		// head == tail keeps meaning empty
		if r.tail == offsetSize {
			r.dropTail()
			dropped++
		}
	}

	r.writeOffset(end, r.head)
	end += offsetSize

	r.writeOffset(r.head, end)
	r.head = end

	return wrapped, dropped
}

// pop moves head to the start of the newest record and returns its payload.
func (r *ring) pop() []byte {
	start := r.readOffset(r.head - offsetSize)
	r.head = start

	return r.arena[start+offsetSize:]
}

// framedSize returns the arena bytes taken by a record with a payload of n bytes.
func framedSize(n int) int {
	return n + 2*offsetSize
}
