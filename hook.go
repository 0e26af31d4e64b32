// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import "time"

// CommitInfo describes a single Commit call.
type CommitInfo struct {
	// Elapsed covers eviction, delta encoding and record framing.
	Elapsed time.Duration

	// RecordSize is the number of arena bytes taken by the new record,
	// zero for the first commit (there is nothing to diff against).
	RecordSize int

	// Evicted is the number of oldest records dropped to make room.
	Evicted int

	// Entries is the number of snapshots available to Pop after the commit.
	Entries int

	// Wrapped is set when the write position restarted at the arena start.
	Wrapped bool
}

// PopInfo describes a single successful Pop call.
type PopInfo struct {
	Elapsed time.Duration

	// RecordSize is the number of arena bytes of the consumed record.
	RecordSize int

	Entries int
}

// Hook observes Buffer operations.
//
// Hook methods are called synchronously from Commit and Pop, so they should be cheap.
type Hook interface {
	CommitDone(info CommitInfo)
	PopDone(info PopInfo)
}
