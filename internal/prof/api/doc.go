// Package api is the process-wide profiler runtime.
//
// It owns the function registry, the per-goroutine call stacks and the
// output stream, and implements the two instrumentation hooks:
//
//	FuncEnter(fn, callSite)  // on entry to every instrumented function
//	FuncExit(fn, callSite)   // on every return
//
// Instrumented code normally reaches them through the Enter/Exit helper
// pair injected by the cycprof tool:
//
//	func work() {
//	    defer prof.Exit(prof.Enter())
//	    ...
//	}
//
// Hot path cost:
//   - Known function, known goroutine: one goroutine ID lookup, one table
//     probe, one counter read, one non-atomic add
//   - First sight of a function: one allocation and two compare-and-swaps
//   - First event of a goroutine: one call-stack allocation
//
// Hooks are no-ops until Init (or InitWithOptions) runs, after Fini, while
// the profiler is disabled, and while the optional readiness check reports
// false.
package api
