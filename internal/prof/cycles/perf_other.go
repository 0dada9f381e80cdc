//go:build !linux

package cycles

import "errors"

// ErrPerfUnsupported is returned by OpenPerf on systems without perf_event.
var ErrPerfUnsupported = errors.New("perf_event counters are only supported on Linux")

// Perf is unavailable on this platform.
type Perf struct{}

// OpenPerf always fails on non-Linux systems.
func OpenPerf() (*Perf, error) {
	return nil, ErrPerfUnsupported
}

// Read returns zero.
func (p *Perf) Read() uint64 { return 0 }

// Close is a no-op.
func (p *Perf) Close() error { return nil }
