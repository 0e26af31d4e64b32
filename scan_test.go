// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package rewind

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScanner(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ScanScalar, newScanner(ScanScalar).strategy)
	assert.Equal(t, ScanWide, newScanner(ScanWide).strategy)
	assert.Equal(t, detectScanStrategy(), newScanner(ScanAuto).strategy)
	assert.NotEqual(t, ScanAuto, detectScanStrategy())
}

func TestScanStrategiesAgree(t *testing.T) {
	t.Parallel()

	scalar := newScanner(ScanScalar)
	wide := newScanner(ScanWide)

	rnd := rand.New(rand.NewPCG(3, 4))

	for range 500 {
		words := 1 + rnd.IntN(300)
		recordSize := words * wordSize

		a := newSnapshot(recordSize, 0xffff)
		b := newSnapshot(recordSize, 0x0000)

		for i := range recordSize {
			a[i] = byte(rnd.IntN(256))
		}

		copy(b, a[:recordSize])

		// a sprinkle of differences, sometimes in clusters
		changes := rnd.IntN(words + 1)
		for range changes {
			w := rnd.IntN(words)

			for j := w; j < min(words, w+1+rnd.IntN(4)); j++ {
				b[j*wordSize] ^= 0x5a
			}
		}

		for start := range words {
			off := start * wordSize

			expectedChange := scalar.findChange(a[off:], b[off:])
			require.Equal(t, expectedChange, wide.findChange(a[off:], b[off:]), "findChange at word %d", start)

			// reference: first differing word, the guard stops at words+3
			ref := start
			for ref < words && a[ref*wordSize] == b[ref*wordSize] && a[ref*wordSize+1] == b[ref*wordSize+1] {
				ref++
			}

			if ref == words {
				require.GreaterOrEqual(t, expectedChange, words-start)
			} else {
				require.Equal(t, ref-start, expectedChange)
			}

			if a[off] == b[off] && a[off+1] == b[off+1] {
				continue
			}

			expectedSame := scalar.findSame(a[off:], b[off:])
			require.Equal(t, expectedSame, wide.findSame(a[off:], b[off:]), "findSame at word %d", start)
			require.GreaterOrEqual(t, expectedSame, 1)
			require.LessOrEqual(t, expectedSame, words-start)
		}
	}
}

func TestFindSamePairs(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies {
		sc := newScanner(strategy)

		for _, test := range []struct {
			name     string
			diff     []int // indexes of differing words
			expected int
		}{
			{name: "single", diff: []int{0}, expected: 1},
			{name: "unaligned pair missed", diff: []int{0, 3}, expected: 4},
			{name: "three same", diff: []int{0, 1, 5}, expected: 2},
			{name: "step back", diff: []int{0, 2}, expected: 3},
		} {
			t.Run(strategy.String()+"/"+test.name, func(t *testing.T) {
				const words = 16

				a := newSnapshot(words*wordSize, 0xffff)
				b := newSnapshot(words*wordSize, 0x0000)

				for _, w := range test.diff {
					b[w*wordSize] = 1
				}

				assert.Equal(t, test.expected, sc.findSame(a, b))
			})
		}
	}
}
