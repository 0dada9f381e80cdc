package goroutine

import (
	"github.com/kolkov/cycleprof/internal/prof/callstack"
)

// Context is the profiling state of a single goroutine.
//
// A Context is only ever touched by the goroutine it belongs to, except by
// the reclamation scan, which only removes contexts of goroutines that no
// longer exist.
type Context struct {
	// GID is the goroutine ID this context was allocated for.
	GID int64

	// Tracker is the shadow call stack for this goroutine.
	Tracker *callstack.Tracker
}

// Alloc creates a Context for goroutine gid with a fresh, empty call stack.
//
// Example:
//
//	ctx := Alloc(ID(), callstack.DefaultCapacity, callstack.Clamp)
//	// ctx.Tracker.Depth() == 0
func Alloc(gid int64, capacity int, policy callstack.Policy) *Context {
	return &Context{
		GID:     gid,
		Tracker: callstack.New(capacity, policy),
	}
}
