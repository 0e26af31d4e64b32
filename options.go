// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultCapacity is the arena size used when WithCapacity is not given.
const DefaultCapacity = 20 << 20

// Options defines settings for Buffer.
type Options struct {
	Logger *zap.Logger

	// Hook receives per-call statistics, nil disables them (and the timing).
	Hook Hook

	// Capacity is the size of the arena holding compressed records, in bytes.
	Capacity int

	ScanStrategy ScanStrategy
}

// defaultOptions returns default initial values.
func defaultOptions() Options {
	return Options{
		Capacity:     DefaultCapacity,
		ScanStrategy: ScanAuto,
		Logger:       zap.NewNop(),
	}
}

// OptionFunc allows setting Buffer options.
type OptionFunc func(*Options) error

// WithCapacity sets the total size of the record arena.
//
// The number of snapshots which fit depends on how much the state changes
// between commits; a busy state needs roughly 15-20MB per minute at 60 commits
// per second.
func WithCapacity(capacity int) OptionFunc {
	return func(opt *Options) error {
		if capacity <= 0 {
			return fmt.Errorf("capacity should be positive: %d", capacity)
		}

		opt.Capacity = capacity

		return nil
	}
}

// WithLogger sets logger for Buffer.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opt *Options) error {
		if logger == nil {
			return fmt.Errorf("logger should be set")
		}

		opt.Logger = logger

		return nil
	}
}

// WithHook installs an observability hook called after every Commit and Pop.
func WithHook(hook Hook) OptionFunc {
	return func(opt *Options) error {
		if hook == nil {
			return fmt.Errorf("hook should be set")
		}

		opt.Hook = hook

		return nil
	}
}

// WithScanStrategy forces the change detection strategy.
//
// Default is ScanAuto, which picks the wide strategy if the CPU has 128-bit vector support.
func WithScanStrategy(strategy ScanStrategy) OptionFunc {
	return func(opt *Options) error {
		switch strategy {
		case ScanAuto, ScanScalar, ScanWide:
		default:
			return fmt.Errorf("unknown scan strategy: %d", strategy)
		}

		opt.ScanStrategy = strategy

		return nil
	}
}
