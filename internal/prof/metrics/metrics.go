// Package metrics exposes the profiler's own counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time view of the profiler's internal counters.
type Stats struct {
	// Functions is the number of registered functions.
	Functions int `json:"functions"`

	// Goroutines is the number of goroutines holding a call stack.
	Goroutines int `json:"goroutines"`

	// Dumps is the number of completed dumps.
	Dumps uint64 `json:"dumps"`

	// DumpErrors is the number of dumps aborted by an encoder error.
	DumpErrors uint64 `json:"dump_errors"`

	// OverflowedFrames is the number of entries not stored because a
	// goroutine's stack was full.
	OverflowedFrames uint64 `json:"overflowed_frames"`

	// UnmatchedExits is the number of exits whose function was not the one
	// on top of the stack.
	UnmatchedExits uint64 `json:"unmatched_exits"`
}

const namespace = "cycleprof"

// Collector reports Stats as Prometheus metrics.
type Collector struct {
	stats func() Stats

	functions  *prometheus.Desc
	goroutines *prometheus.Desc
	dumps      *prometheus.Desc
	dumpErrors *prometheus.Desc
	overflowed *prometheus.Desc
	unmatched  *prometheus.Desc
}

// NewCollector returns a collector that calls stats on every scrape.
func NewCollector(stats func() Stats) *Collector {
	return &Collector{
		stats: stats,

		functions: prometheus.NewDesc(
			namespace+"_registered_functions",
			"The number of instrumented functions seen so far.",
			nil, nil,
		),
		goroutines: prometheus.NewDesc(
			namespace+"_tracked_goroutines",
			"The number of goroutines with a shadow call stack.",
			nil, nil,
		),
		dumps: prometheus.NewDesc(
			namespace+"_dumps_total",
			"The total number of completed profile dumps.",
			nil, nil,
		),
		dumpErrors: prometheus.NewDesc(
			namespace+"_dump_errors_total",
			"The total number of profile dumps aborted by an encoder error.",
			nil, nil,
		),
		overflowed: prometheus.NewDesc(
			namespace+"_overflowed_frames_total",
			"The total number of call frames beyond the stack capacity.",
			nil, nil,
		),
		unmatched: prometheus.NewDesc(
			namespace+"_unmatched_exits_total",
			"The total number of exits that did not match the innermost entry.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.functions
	ch <- c.goroutines
	ch <- c.dumps
	ch <- c.dumpErrors
	ch <- c.overflowed
	ch <- c.unmatched
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.functions, prometheus.GaugeValue, float64(s.Functions))
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(s.Goroutines))
	ch <- prometheus.MustNewConstMetric(c.dumps, prometheus.CounterValue, float64(s.Dumps))
	ch <- prometheus.MustNewConstMetric(c.dumpErrors, prometheus.CounterValue, float64(s.DumpErrors))
	ch <- prometheus.MustNewConstMetric(c.overflowed, prometheus.CounterValue, float64(s.OverflowedFrames))
	ch <- prometheus.MustNewConstMetric(c.unmatched, prometheus.CounterValue, float64(s.UnmatchedExits))
}
