package api

import (
	"runtime"

	"github.com/kolkov/cycleprof/internal/prof/callstack"
)

// FuncEnter is called on entry to an instrumented function.
//
// Flow:
//  1. Drop the event unless the profiler is enabled, initialized and ready
//  2. Find or register the node for fn
//  3. Read the counter and charge the elapsed window to the caller
//  4. Push the node on the calling goroutine's stack
//
// Parameters:
//   - fn: entry address of the function being entered
//   - callSite: return address in the caller (carried for tooling, unused)
func FuncEnter(fn, callSite uintptr) {
	s := active()
	if s == nil {
		return
	}

	n, _ := s.tab.LoadOrCreate(fn)
	now := s.clock.Read()

	tr := s.context().Tracker
	tr.Enter(n, now)
	if tr.Policy() == callstack.Clamp && tr.Depth() > tr.Capacity() {
		s.overflowed.Add(1)
	}
}

// FuncExit is called on every return from an instrumented function.
//
// The window since the previous event is charged to the function on top of
// the goroutine's stack. fn is only compared against that function to count
// unmatched exits; it never changes attribution.
//
// An exit on a goroutine with an empty stack is ignored.
func FuncExit(fn, callSite uintptr) {
	s := active()
	if s == nil {
		return
	}

	ctx := s.lookup()
	if ctx == nil || ctx.Tracker.Depth() == 0 {
		return
	}
	tr := ctx.Tracker

	if fn != 0 && (tr.Policy() == callstack.Grow || tr.Depth() <= tr.Capacity()) {
		if top := tr.Top(); top.Fn() != fn {
			s.unmatched.Add(1)
		}
	}
	tr.Exit(s.clock.Read())
}

// Frame identifies an entered function so that the matching exit can be
// reported. The zero Frame is ignored by Exit.
type Frame struct {
	Fn       uintptr
	CallSite uintptr
}

// Enter reports entry into the function that called it and returns the
// Frame to pass to Exit. skip is the number of additional wrapper frames
// between the instrumented function and Enter.
//
// Usage (skip 0, direct call):
//
//	defer api.Exit(api.Enter(0))
//
//go:noinline
func Enter(skip int) Frame {
	if active() == nil {
		return Frame{}
	}

	// pcs[0] is inside the instrumented function, pcs[1] inside its caller.
	var pcs [2]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return Frame{}
	}

	f := Frame{Fn: entryOf(pcs[0])}
	if n > 1 {
		f.CallSite = pcs[1]
	}
	FuncEnter(f.Fn, f.CallSite)
	return f
}

// Exit reports the return of the function that produced f.
func Exit(f Frame) {
	if f.Fn == 0 {
		return
	}
	FuncExit(f.Fn, f.CallSite)
}

// entryOf returns the entry address of the function containing return
// address pc.
func entryOf(pc uintptr) uintptr {
	if fn := runtime.FuncForPC(pc - 1); fn != nil {
		return fn.Entry()
	}
	return pc
}
