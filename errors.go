// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import "errors"

// ErrInvalidStateSize is returned when the snapshot size can't be used for a Buffer.
var ErrInvalidStateSize = errors.New("invalid state size")

// ErrCapacityTooSmall is returned when the arena can't hold a single worst-case record.
var ErrCapacityTooSmall = errors.New("capacity too small")
