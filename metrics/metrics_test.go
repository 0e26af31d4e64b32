// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package metrics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/siderolabs/go-rewind"
)

func TestHook(t *testing.T) {
	t.Parallel()

	hook := NewHook("rewind")

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(hook))

	// record size 8 with the minimal capacity, only two worst case records fit
	buf, err := rewind.NewBuffer(8, rewind.WithCapacity(76), rewind.WithHook(hook))
	require.NoError(t, err)

	for i := range 10 {
		data := buf.BeginWrite()
		for j := range data {
			data[j] = byte(i)
		}

		buf.Commit()
	}

	_, ok := buf.Pop()
	require.True(t, ok)

	entries := buf.Len()

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)

	// histograms carry both op labels
	assert.Equal(t, 9, testutil.CollectAndCount(hook))

	expected := fmt.Sprintf(`
# HELP rewind_commits_total Number of committed snapshots.
# TYPE rewind_commits_total counter
rewind_commits_total 10
# HELP rewind_pops_total Number of snapshots restored by Pop.
# TYPE rewind_pops_total counter
rewind_pops_total 1
# HELP rewind_entries Number of snapshots available to Pop.
# TYPE rewind_entries gauge
rewind_entries %d
`, entries)

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"rewind_commits_total", "rewind_pops_total", "rewind_entries"))

	// nine records were written, one popped, the rest were evicted
	assert.Equal(t, float64(9-1-entries), testutil.ToFloat64(hook.evictions))
	assert.Greater(t, testutil.ToFloat64(hook.wraps), 0.0)

	require.NoError(t, buf.Close())
}

func TestHookFirstCommit(t *testing.T) {
	t.Parallel()

	hook := NewHook("test")

	hook.CommitDone(rewind.CommitInfo{})

	assert.Equal(t, 1.0, testutil.ToFloat64(hook.commits))
	assert.Equal(t, 0.0, testutil.ToFloat64(hook.evictions))

	// nothing encoded, nothing observed
	assert.Equal(t, 0, testutil.CollectAndCount(hook.duration))
	assert.Equal(t, 0, testutil.CollectAndCount(hook.recordSize))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
