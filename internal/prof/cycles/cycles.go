// Package cycles provides the counter sources the profiler reads on every
// entry and exit event.
//
// A Counter must be monotonic on the goroutine that reads it; the profiler
// only ever subtracts two readings taken by the same goroutine. Wraparound is
// tolerated because differences are computed with unsigned arithmetic.
package cycles

import (
	"fmt"
	"strings"
	"sync/atomic"
	_ "unsafe" // for go:linkname
)

// Counter is a monotonic cycle or tick source.
type Counter interface {
	// Read returns the current counter value.
	Read() uint64
}

// CounterFunc adapts a plain function to the Counter interface.
type CounterFunc func() uint64

// Read calls f.
func (f CounterFunc) Read() uint64 {
	return f()
}

//go:linkname nanotime runtime.nanotime
func nanotime() int64

// Nanotime returns a Counter backed by the runtime's monotonic clock.
//
// This is the default source: it is available everywhere, costs a few
// nanoseconds, and is consistent across OS threads, so goroutines migrating
// between threads do not corrupt their windows. The unit is nanoseconds, not
// CPU cycles.
func Nanotime() Counter {
	return CounterFunc(func() uint64 {
		//nolint:gosec // G115: the monotonic clock is never negative
		return uint64(nanotime())
	})
}

// Sequence is a deterministic Counter for tests: it returns the configured
// values in order and then repeats the last one.
//
// Thread Safety: Read is safe for concurrent use; the order in which
// concurrent readers observe values is unspecified.
type Sequence struct {
	vals []uint64
	next atomic.Int64
}

// NewSequence returns a Counter yielding vals in order.
func NewSequence(vals ...uint64) *Sequence {
	return &Sequence{vals: vals}
}

// Read returns the next configured value.
func (s *Sequence) Read() uint64 {
	if len(s.vals) == 0 {
		return 0
	}
	i := int(s.next.Add(1) - 1)
	if i >= len(s.vals) {
		i = len(s.vals) - 1
	}
	return s.vals[i]
}

// Reads returns how many times Read has been called.
func (s *Sequence) Reads() int {
	return int(s.next.Load())
}

// Source names a Counter implementation selectable by configuration.
type Source string

const (
	// SourceNanotime selects Nanotime.
	SourceNanotime Source = "nanotime"
	// SourceTSC selects TSC.
	SourceTSC Source = "tsc"
	// SourcePerf selects the Linux perf_event CPU-cycles counter.
	SourcePerf Source = "perf"
)

// ParseSource validates a configuration name.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case "":
		return SourceNanotime, nil
	case SourceNanotime, SourceTSC, SourcePerf:
		return src, nil
	default:
		return "", fmt.Errorf("unknown counter source %q (want nanotime, tsc or perf)", s)
	}
}

// Open returns the Counter for src.
//
// The returned close function releases any resources held by the counter and
// is never nil.
func Open(src Source) (Counter, func() error, error) {
	noop := func() error { return nil }
	switch src {
	case SourceNanotime, "":
		return Nanotime(), noop, nil
	case SourceTSC:
		return TSC(), noop, nil
	case SourcePerf:
		p, err := OpenPerf()
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown counter source %q", src)
	}
}
