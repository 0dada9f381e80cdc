//go:build linux

package cycles

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Perf is a Counter backed by a perf_event CPU-cycles counter.
//
// The counter measures the OS thread that opened it (pid 0, any CPU), user
// space only. Goroutines are not pinned to threads, so readings are only
// meaningful for code running on that thread: lock the profiled goroutine
// with runtime.LockOSThread before OpenPerf and keep it locked.
//
// A failed read returns the previous reading, which charges zero cycles to
// the current window instead of a bogus delta.
type Perf struct {
	fd   int
	last atomic.Uint64
}

// OpenPerf opens a CPU-cycles counter for the calling thread.
//
// Returns an error if the kernel refuses the event, typically because
// kernel.perf_event_paranoid is too strict or the host has no PMU.
func OpenPerf() (*Perf, error) {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: unix.PERF_COUNT_HW_CPU_CYCLES,
		Bits:   unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	fd, err := unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("perf_event_open cpu-cycles: %w (try: sysctl kernel.perf_event_paranoid=1)", err)
	}
	return &Perf{fd: fd}, nil
}

// Read returns the number of cycles counted so far.
func (p *Perf) Read() uint64 {
	var buf [8]byte
	n, err := unix.Read(p.fd, buf[:])
	if err != nil || n != len(buf) {
		return p.last.Load()
	}
	v := binary.NativeEndian.Uint64(buf[:])
	p.last.Store(v)
	return v
}

// Close releases the perf event file descriptor.
func (p *Perf) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
