// Package prof provides the public API of the cycleprof profiler.
//
// See doc.go for detailed documentation and examples.
package prof

import (
	"io"

	"github.com/kolkov/cycleprof/internal/prof/api"
	"github.com/kolkov/cycleprof/internal/prof/callstack"
	"github.com/kolkov/cycleprof/internal/prof/cycles"
	"github.com/kolkov/cycleprof/internal/prof/metrics"
)

// Options configures InitWithOptions. The zero value is usable.
type Options = api.Options

// Frame is returned by Enter and consumed by Exit.
type Frame = api.Frame

// Stats holds the profiler's internal counters.
type Stats = metrics.Stats

// Counter is a monotonic cycle or tick source.
type Counter = cycles.Counter

// Policy selects what happens when a goroutine nests deeper than the
// configured stack depth.
type Policy = callstack.Policy

const (
	// Clamp charges frames beyond the stack depth to the deepest stored
	// frame. This is the default.
	Clamp = callstack.Clamp

	// Grow extends the stack without bound.
	Grow = callstack.Grow
)

// Init initializes the profiler from CYCPROF_* environment variables.
//
// The cycprof tool inserts this call at the beginning of main():
//
//	func main() {
//		prof.Init()
//		defer prof.Fini()
//		// ... rest of program
//	}
func Init() {
	api.Init()
}

// InitWithOptions initializes the profiler with explicit options instead of
// the environment.
func InitWithOptions(opts Options) {
	api.InitWithOptions(opts)
}

// Fini stops profiling and writes the final dump (unless
// CYCPROF_DUMP_ON_EXIT=false).
func Fini() {
	api.Fini()
}

// Reset discards collected cycles and call stacks.
func Reset() {
	api.Reset()
}

// Enable resumes recording after Disable.
func Enable() {
	api.Enable()
}

// Disable pauses recording. Collected data is kept.
func Disable() {
	api.Disable()
}

// FuncEnter records entry into the function at address fn, called from
// callSite.
//
// This mirrors the compiler function-instrumentation hook. Code rewritten by
// the cycprof tool uses Enter instead.
func FuncEnter(fn, callSite uintptr) {
	api.FuncEnter(fn, callSite)
}

// FuncExit records the return from the function at address fn.
func FuncExit(fn, callSite uintptr) {
	api.FuncExit(fn, callSite)
}

// Enter records entry into the calling function. Pair it with Exit:
//
//	func work() {
//		defer prof.Exit(prof.Enter())
//		// ...
//	}
//
//go:noinline
func Enter() Frame {
	return api.Enter(1)
}

// Exit records the return matching f.
func Exit(f Frame) {
	api.Exit(f)
}

// Dump writes the collected cycles to the configured output and resets
// them. Dumps can be taken at any time without stopping the program.
func Dump() error {
	return api.Dump()
}

// DumpTo is Dump with an explicit destination.
func DumpTo(w io.Writer) error {
	return api.DumpTo(w)
}

// GetStats returns the profiler's internal counters.
func GetStats() Stats {
	return api.Stats()
}

// Collector returns a Prometheus collector over GetStats:
//
//	prometheus.MustRegister(prof.Collector())
func Collector() *metrics.Collector {
	return api.Collector()
}
