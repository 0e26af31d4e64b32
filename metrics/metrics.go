// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package metrics exposes rewind.Buffer statistics as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/siderolabs/go-rewind"
)

// Hook implements rewind.Hook and prometheus.Collector.
//
// Install it with rewind.WithHook and register it with a prometheus.Registerer.
type Hook struct {
	commits   prometheus.Counter
	pops      prometheus.Counter
	evictions prometheus.Counter
	wraps     prometheus.Counter

	entries prometheus.Gauge

	duration   *prometheus.HistogramVec
	recordSize *prometheus.HistogramVec
}

var _ rewind.Hook = (*Hook)(nil)

// NewHook creates a Hook, every metric name is prefixed with namespace.
func NewHook(namespace string) *Hook {
	return &Hook{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Number of committed snapshots.",
		}),
		pops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pops_total",
			Help:      "Number of snapshots restored by Pop.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Number of oldest snapshots forgotten to make room.",
		}),
		wraps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wraps_total",
			Help:      "Number of times the write position restarted at the arena start.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Number of snapshots available to Pop.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Duration of Commit and Pop calls.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"op"}),
		recordSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_size_bytes",
			Help:      "Arena bytes taken by a record, including the links.",
			Buckets:   prometheus.ExponentialBuckets(32, 4, 10),
		}, []string{"op"}),
	}
}

// CommitDone implements rewind.Hook.
func (h *Hook) CommitDone(info rewind.CommitInfo) {
	h.commits.Inc()
	h.entries.Set(float64(info.Entries))

	if info.RecordSize == 0 {
		// first commit, nothing was encoded
		return
	}

	h.evictions.Add(float64(info.Evicted))

	if info.Wrapped {
		h.wraps.Inc()
	}

	h.duration.WithLabelValues("commit").Observe(info.Elapsed.Seconds())
	h.recordSize.WithLabelValues("commit").Observe(float64(info.RecordSize))
}

// PopDone implements rewind.Hook.
func (h *Hook) PopDone(info rewind.PopInfo) {
	h.pops.Inc()
	h.entries.Set(float64(info.Entries))

	h.duration.WithLabelValues("pop").Observe(info.Elapsed.Seconds())
	h.recordSize.WithLabelValues("pop").Observe(float64(info.RecordSize))
}

func (h *Hook) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.commits,
		h.pops,
		h.evictions,
		h.wraps,
		h.entries,
		h.duration,
		h.recordSize,
	}
}

// Describe implements prometheus.Collector.
func (h *Hook) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range h.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (h *Hook) Collect(ch chan<- prometheus.Metric) {
	for _, c := range h.collectors() {
		c.Collect(ch)
	}
}
