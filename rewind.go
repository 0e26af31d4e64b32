// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package rewind provides a fixed capacity history of snapshots of a
// frequently mutated memory region, such as the state of an emulated machine.
//
// Snapshots are stored as word-level deltas against the following snapshot in
// a circular arena, oldest snapshots are forgotten when the arena is full.
package rewind

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Buffer keeps the history of snapshots and allows stepping back through it.
//
// Every step, the owner writes the new snapshot into the slice returned by
// BeginWrite and calls Commit. Pop reverts to the previous snapshot.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	// latest committed (or popped) snapshot, the newest record applies to it
	current snapshot

	// receives the next snapshot from the caller
	staging snapshot

	// buffer options
	opt Options

	scan scanner

	// compressed records
	ring ring

	stateSize  int
	recordSize int

	// number of snapshots available to Pop
	entries int

	// set by the first Commit, before that there is nothing to diff against
	active bool

	closed bool
}

// maxStateSize keeps every size computation far from int overflow.
const maxStateSize = math.MaxInt32 / 4

// NewBuffer creates new Buffer for snapshots of stateSize bytes.
func NewBuffer(stateSize int, opts ...OptionFunc) (*Buffer, error) {
	buf := &Buffer{
		opt: defaultOptions(),
	}

	for _, o := range opts {
		if err := o(&buf.opt); err != nil {
			return nil, err
		}
	}

	if stateSize <= 0 || stateSize > maxStateSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStateSize, stateSize)
	}

	buf.stateSize = stateSize
	buf.recordSize = (stateSize + wordSize - 1) &^ (wordSize - 1)

	maxRecord := framedSize(maxPayloadSize(buf.recordSize))

	if minCapacity := 2*maxRecord + offsetSize; buf.opt.Capacity < minCapacity {
		return nil, fmt.Errorf("%w: %d bytes, at least %d bytes are required for state size %d",
			ErrCapacityTooSmall, buf.opt.Capacity, minCapacity, stateSize)
	}

	buf.scan = newScanner(buf.opt.ScanStrategy)
	buf.ring = newRing(buf.opt.Capacity, maxRecord)

	// sentinels must differ, see snapshot
	buf.current = newSnapshot(buf.recordSize, 0xffff)
	buf.staging = newSnapshot(buf.recordSize, 0x0000)

	buf.opt.Logger.Debug("rewind buffer created",
		zap.Int("state_size", stateSize),
		zap.Int("record_size", buf.recordSize),
		zap.Int("max_record_size", maxRecord),
		zap.Int("capacity", buf.opt.Capacity),
		zap.Stringer("scan_strategy", buf.scan.strategy),
	)

	return buf, nil
}

// Close releases the memory held by the buffer.
//
// After Close, BeginWrite returns nil, Commit does nothing and Pop reports no history.
func (buf *Buffer) Close() error {
	if buf.closed {
		return nil
	}

	buf.closed = true

	buf.opt.Logger.Debug("rewind buffer closed",
		zap.Int("entries", buf.entries),
		zap.Int("bytes_used", buf.ring.capacity()-buf.ring.remaining()),
	)

	buf.current = nil
	buf.staging = nil
	buf.ring = ring{}
	buf.entries = 0

	return nil
}

// BeginWrite returns the slice the next snapshot should be written to.
//
// The slice is StateSize bytes long and must be filled completely before
// Commit; it stays owned by the Buffer.
func (buf *Buffer) BeginWrite() []byte {
	if buf.closed {
		return nil
	}

	// keep the padding word stable, so that it never shows up as a change
	if buf.recordSize != buf.stateSize {
		buf.staging[buf.stateSize] = 0
	}

	return buf.staging.data(buf.stateSize)
}

// Commit appends the snapshot written to the BeginWrite slice to the history.
//
// The oldest snapshots are forgotten as needed to make room.
func (buf *Buffer) Commit() {
	if buf.closed {
		return
	}

	if !buf.active {
		buf.active = true
		buf.swap()

		if buf.opt.Hook != nil {
			buf.opt.Hook.CommitDone(CommitInfo{})
		}

		return
	}

	var start time.Time

	if buf.opt.Hook != nil {
		start = time.Now()
	}

	evicted := buf.ring.reserve()

	n := encodeDelta(buf.ring.payload(), buf.current, buf.staging, buf.recordSize, buf.scan)

	wrapped, dropped := buf.ring.commit(n)
	evicted += dropped

	buf.entries += 1 - evicted

	if wrapped {
		if ce := buf.opt.Logger.Check(zap.DebugLevel, "rewind buffer wrapped"); ce != nil {
			ce.Write(zap.Int("entries", buf.entries), zap.Int("evicted", evicted))
		}
	}

	buf.swap()

	if buf.opt.Hook != nil {
		buf.opt.Hook.CommitDone(CommitInfo{
			Elapsed:    time.Since(start),
			RecordSize: framedSize(n),
			Evicted:    evicted,
			Entries:    buf.entries,
			Wrapped:    wrapped,
		})
	}
}

// Pop reverts to the previous snapshot and returns it.
//
// The returned slice is StateSize bytes long; it is read-only and valid until
// the next call to Pop or Commit. If there is no history left, Pop returns
// false.
func (buf *Buffer) Pop() ([]byte, bool) {
	if buf.closed || buf.ring.empty() {
		return nil, false
	}

	var start time.Time

	if buf.opt.Hook != nil {
		start = time.Now()
	}

	n := applyDelta(buf.current.data(buf.recordSize), buf.ring.pop())

	buf.entries--

	if buf.opt.Hook != nil {
		buf.opt.Hook.PopDone(PopInfo{
			Elapsed:    time.Since(start),
			RecordSize: framedSize(n),
			Entries:    buf.entries,
		})
	}

	return buf.current.data(buf.stateSize), true
}

func (buf *Buffer) swap() {
	buf.current, buf.staging = buf.staging, buf.current
}

// Status of the history.
type Status struct {
	// Entries is the number of snapshots Pop can still return.
	Entries int

	// BytesUsed is the number of arena bytes taken by records.
	BytesUsed int

	// Full is set when the arena is close enough to its capacity that the
	// next commits are going to forget old snapshots.
	Full bool
}

// Status returns the current history status.
func (buf *Buffer) Status() Status {
	if buf.closed {
		return Status{}
	}

	remaining := buf.ring.remaining()

	return Status{
		Entries:   buf.entries,
		BytesUsed: buf.ring.capacity() - remaining,
		Full:      remaining <= 2*buf.ring.maxRecord,
	}
}

// Len returns the number of snapshots Pop can still return.
func (buf *Buffer) Len() int {
	return buf.entries
}

// StateSize returns the snapshot size the buffer was created for.
func (buf *Buffer) StateSize() int {
	return buf.stateSize
}

// MaxRecordSize returns the worst case number of arena bytes taken by one snapshot.
func (buf *Buffer) MaxRecordSize() int {
	return buf.ring.maxRecord
}

// Capacity returns the size of the record arena.
func (buf *Buffer) Capacity() int {
	return buf.opt.Capacity
}

// ScanStrategy returns the change detection strategy in use.
func (buf *Buffer) ScanStrategy() ScanStrategy {
	return buf.scan.strategy
}
