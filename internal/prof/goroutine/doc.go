// Package goroutine implements the per-goroutine profiler state.
//
// The original profiler kept its shadow call stack in thread-local storage.
// Go has no thread-local storage visible to user code, and goroutines are the
// unit of sequential execution, so each goroutine gets its own Context keyed
// by goroutine ID. A Context stores:
//   - GID: the goroutine ID the context belongs to
//   - Tracker: the shadow call stack attributing cycles for that goroutine
//
// The package also extracts goroutine IDs from runtime.Stack output and lists
// the goroutines currently alive, which the runtime uses to reclaim contexts
// of goroutines that have exited.
//
// Performance requirements:
//   - ID(): ~1µs (runtime.Stack of the current goroutine, 64-byte buffer)
//   - LiveIDs(): ~1ms per 1000 goroutines (amortized, never on the hot path)
package goroutine
