// Package prof is an always-on call-graph profiler for Go programs.
//
// Every instrumented function records the cycles spent in its own body,
// excluding the functions it calls. Results from all goroutines can be
// dumped at any moment without stopping the program; each dump resets the
// counters, so consecutive dumps describe consecutive time windows.
//
// # Quick Start
//
// The cycprof tool instruments every function of a program and links this
// package in:
//
//	$ cycprof build -o app ./...
//	$ ./app 2> profile.log
//	$ cycprof decode profile.log
//
// Manual instrumentation:
//
//	package main
//
//	import "github.com/kolkov/cycleprof/prof"
//
//	func work() {
//		defer prof.Exit(prof.Enter())
//		// ...
//	}
//
//	func main() {
//		prof.Init()
//		defer prof.Fini()
//		work()
//	}
//
// # Dump Format
//
// A dump is a line "PROFILE DUMP:", one line of base64 text, and a newline.
// The text decodes to a CBOR indefinite-length array of two-element arrays
// [function entry address, cycles]. Addresses are not symbolized; use
// `cycprof decode --format pprof` and `go tool pprof` with the binary.
//
// # Configuration
//
// Init reads the environment:
//
//	CYCPROF_STACK_DEPTH   call-stack capacity per goroutine (128)
//	CYCPROF_OVERFLOW      clamp | grow (clamp)
//	CYCPROF_CLOCK         nanotime | tsc | perf (nanotime)
//	CYCPROF_OUTPUT        stderr | stdout | file path (stderr)
//	CYCPROF_DUMP_ON_EXIT  dump once in Fini (true)
//	CYCPROF_LOG_LEVEL     profiler log level (info)
//
// # Accuracy
//
// The profiler never takes a lock on the hot path. Two goroutines adding to
// the same function at the same instant can lose one of the additions, and
// a dump taken while functions are running can miss or double count a
// window. Totals saturate at the maximum uint64 instead of wrapping.
//
// With the default clock the unit is nanoseconds of monotonic time; the tsc
// and perf clocks count CPU cycles.
package prof
