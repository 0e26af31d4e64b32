// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import (
	"bytes"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingHook struct {
	commits, pops, wraps, evictions int
}

func (h *countingHook) CommitDone(info CommitInfo) {
	h.commits++
	h.evictions += info.Evicted

	if info.Wrapped {
		h.wraps++
	}
}

func (h *countingHook) PopDone(PopInfo) {
	h.pops++
}

// checkChain walks the records both ways and checks the count matches the entries.
func checkChain(t *testing.T, buf *Buffer) {
	t.Helper()

	r := &buf.ring

	limit := r.capacity() / framedSize(terminatorSz)

	forward := 0
	for at := r.tail; at != r.head; at = r.readOffset(at) {
		forward++

		require.LessOrEqual(t, forward, limit, "forward chain doesn't reach head")
	}

	backward := 0
	for at := r.head; at != r.tail; at = r.readOffset(at - offsetSize) {
		backward++

		require.LessOrEqual(t, backward, limit, "backward chain doesn't reach tail")
	}

	require.Equal(t, buf.entries, forward)
	require.Equal(t, buf.entries, backward)

	require.LessOrEqual(t, int(r.head)+r.maxRecord, r.capacity()+offsetSize)
	require.Greater(t, r.remaining(), 0)
}

func TestRingModel(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		stateSize int
		extra     int // capacity beyond the minimum
		seed      uint64
	}{
		{stateSize: 8, extra: 0, seed: 1},
		{stateSize: 37, extra: 0, seed: 2},
		{stateSize: 37, extra: 100, seed: 3},
		{stateSize: 256, extra: 1000, seed: 4},
		{stateSize: 1001, extra: 17, seed: 5},
		{stateSize: 4096, extra: 50_000, seed: 6},
	} {
		t.Run(strconv.Itoa(test.stateSize)+"/"+strconv.Itoa(test.extra), func(t *testing.T) {
			t.Parallel()

			rnd := rand.New(rand.NewPCG(test.seed, 42))

			recordSize := (test.stateSize + 1) &^ 1
			capacity := 2*framedSize(maxPayloadSize(recordSize)) + offsetSize + test.extra

			hook := &countingHook{}

			for _, strategy := range strategies {
				buf, err := NewBuffer(test.stateSize, WithCapacity(capacity), WithHook(hook), WithScanStrategy(strategy))
				require.NoError(t, err)

				var (
					history [][]byte
					current []byte
				)

				for step := range 3000 {
					if current != nil && rnd.IntN(10) < 3 {
						data, ok := buf.Pop()

						if len(history) == 0 {
							require.False(t, ok, "step %d", step)
						} else {
							require.True(t, ok, "step %d", step)
							require.Equal(t, history[len(history)-1], data, "step %d", step)

							current = history[len(history)-1]
							history = history[:len(history)-1]
						}
					} else {
						next := mutate(rnd, current, test.stateSize)

						copy(buf.BeginWrite(), next)
						buf.Commit()

						if current != nil {
							history = append(history, current)
						}

						current = next

						require.LessOrEqual(t, buf.Len(), len(history))
						history = history[len(history)-buf.Len():]

						if len(history) > 0 {
							require.Greater(t, buf.Len(), 0)
						}
					}

					checkChain(t, buf)

					status := buf.Status()
					require.Equal(t, buf.Len(), status.Entries)
					require.LessOrEqual(t, status.BytesUsed, capacity)
				}

				require.NoError(t, buf.Close())
			}

			require.Greater(t, hook.wraps, 0)
			require.Greater(t, hook.evictions, 0)
		})
	}
}

func mutate(rnd *rand.Rand, current []byte, size int) []byte {
	if current == nil {
		next := make([]byte, size)
		for i := range next {
			next[i] = byte(rnd.IntN(256))
		}

		return next
	}

	next := bytes.Clone(current)

	switch rnd.IntN(4) {
	case 0: // identical
	case 1: // a few bytes
		for range 1 + rnd.IntN(4) {
			next[rnd.IntN(size)]++
		}
	case 2: // a block
		start := rnd.IntN(size)
		end := start + rnd.IntN(size-start) + 1

		for i := start; i < end; i++ {
			next[i] = byte(rnd.IntN(256))
		}
	case 3: // everything
		for i := range next {
			next[i] ^= 0xff
		}
	}

	return next
}

func TestRingWrapWithWrappedLiveRegion(t *testing.T) {
	t.Parallel()

	const stateSize = 64

	buf, err := NewBuffer(stateSize, WithCapacity(1000))
	require.NoError(t, err)

	var committed [][]byte

	// mix tiny and worst case records, so that records wrap while the tail
	// still sits at the end of the arena
	for i := range 200 {
		data := buf.BeginWrite()

		if i%3 == 0 {
			clear(data)
		} else {
			for j := range data {
				data[j] = byte(i + j)
			}
		}

		committed = append(committed, bytes.Clone(data))

		buf.Commit()

		checkChain(t, buf)
	}

	entries := buf.Len()
	require.Greater(t, entries, 0)

	for i := range entries {
		data, ok := buf.Pop()
		require.True(t, ok)
		require.Equal(t, committed[len(committed)-2-i], data)
	}

	_, ok := buf.Pop()
	require.False(t, ok)
}
