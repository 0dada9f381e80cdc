// Package callstack implements the per-goroutine shadow call stack that
// attributes elapsed cycles to the function currently executing.
//
// Every entry and exit event closes a time window that started at the
// previous event on the same goroutine. The window is charged to the node on
// top of the stack at the moment the window closes, so each function is
// charged only for the cycles spent in its own body, never its callees.
//
// A Tracker is owned by exactly one goroutine and is not safe for
// concurrent use.
package callstack

import (
	"fmt"
	"strings"

	"github.com/kolkov/cycleprof/internal/prof/node"
)

// DefaultCapacity is the number of physical stack slots of a clamped tracker.
const DefaultCapacity = 128

// Policy selects what happens when the logical depth exceeds the capacity.
type Policy int

const (
	// Clamp keeps a fixed number of slots. Frames beyond the capacity are
	// not stored; the logical depth still counts them so that exits stay
	// balanced, and every cycle spent in an over-capacity frame is charged
	// to the node in the last physical slot.
	Clamp Policy = iota

	// Grow extends the stack on demand. No frame is ever clamped.
	Grow
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case Clamp:
		return "clamp"
	case Grow:
		return "grow"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clamp":
		return Clamp, nil
	case "grow":
		return Grow, nil
	default:
		return Clamp, fmt.Errorf("unknown overflow policy %q (want clamp or grow)", s)
	}
}

// Tracker mirrors the call stack of one goroutine.
//
// Invariant: depth counts every Enter not yet matched by an Exit, including
// frames that were not stored because the stack was full.
type Tracker struct {
	frames     []*node.Node
	capacity   int
	policy     Policy
	depth      int
	last       uint64
	overflowed uint64
}

// New creates a tracker with the given capacity and overflow policy.
//
// Under Grow the capacity is only the initial allocation. A capacity below 1
// is replaced by DefaultCapacity.
func New(capacity int, policy Policy) *Tracker {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		frames:   make([]*node.Node, 0, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Enter records entry into the function owning n at counter reading now.
//
// Flow:
//  1. If a frame is live, charge now-last to the caller on top of the stack
//  2. Take now as the new baseline
//  3. Push n if there is room, and always bump the logical depth
func (t *Tracker) Enter(n *node.Node, now uint64) {
	if t.depth > 0 {
		t.top().Add(now - t.last)
	}
	t.last = now

	if t.policy == Grow || t.depth < t.capacity {
		t.frames = append(t.frames[:t.depth], n)
	} else {
		t.overflowed++
	}
	t.depth++
}

// Exit records the return of the function on top of the stack at counter
// reading now.
//
// Unmatched exits (depth already zero) are ignored.
//
// Returns:
//   - bool: false if the exit was ignored
func (t *Tracker) Exit(now uint64) bool {
	if t.depth == 0 {
		return false
	}

	t.top().Add(now - t.last)
	t.last = now
	t.depth--
	return true
}

// top returns the node charged for the current window: the frame at
// depth-1, or the last physical slot when the stack has overflowed.
//
//go:nosplit
func (t *Tracker) top() *node.Node {
	if t.depth <= len(t.frames) {
		return t.frames[t.depth-1]
	}
	return t.frames[len(t.frames)-1]
}

// Top returns the node currently being charged, or nil if the stack is empty.
func (t *Tracker) Top() *node.Node {
	if t.depth == 0 {
		return nil
	}
	return t.top()
}

// Depth returns the logical depth, including clamped frames.
func (t *Tracker) Depth() int {
	return t.depth
}

// Capacity returns the physical capacity (initial capacity under Grow).
func (t *Tracker) Capacity() int {
	return t.capacity
}

// Policy returns the overflow policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Overflowed returns how many entries were not stored because the stack was
// full.
func (t *Tracker) Overflowed() uint64 {
	return t.overflowed
}
