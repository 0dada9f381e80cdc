// Package node implements the per-function counter nodes of the profiler,
// the global registry that links them together, and the identity table that
// maps a function address to its node.
//
// A Node is created once per instrumented function and lives for the rest of
// the process. Nodes are never freed and never removed from the registry.
package node

import (
	"math"
	"sync/atomic"
)

// Magic is the validity marker stored in an activated node.
//
// A node whose marker differs from Magic is freshly allocated storage that
// has not been registered yet.
const Magic uint32 = 0x970F17E3

// Node is the counter record of a single instrumented function.
//
// Layout:
//   - fn: function entry address (identity, never changes once set)
//   - valid: Magic once the node has been activated
//   - cycles: saturating accumulator of exclusive cycles
//   - next: link to the next node in the Registry
//
// The cycles field is updated with a load followed by a store rather than an
// atomic add. Two goroutines accumulating into the same node at the same
// instant can lose one of the increments. This is an accepted trade-off: the
// per-goroutine call stack owns a node only while it is on top of the stack.
type Node struct {
	fn     uintptr
	valid  atomic.Uint32
	cycles atomic.Uint64
	next   *Node
}

// newNode allocates an inactive node for fn.
func newNode(fn uintptr) *Node {
	return &Node{fn: fn}
}

// Fn returns the function entry address this node counts for.
func (n *Node) Fn() uintptr {
	return n.fn
}

// Valid reports whether the node has been activated.
func (n *Node) Valid() bool {
	return n.valid.Load() == Magic
}

// Cycles returns the cycles accumulated since the last reset.
func (n *Node) Cycles() uint64 {
	return n.cycles.Load()
}

// Next returns the following node in the registry, or nil at the tail.
func (n *Node) Next() *Node {
	return n.next
}

// Activate marks the node valid and zeroes its counter.
//
// Exactly one caller observes true for a given node: the transition from
// "not valid" to Magic is a compare-and-swap, so concurrent first touches
// cannot both initialize (and later both publish) the same node.
//
// Returns:
//   - bool: true if this call performed the activation
func (n *Node) Activate() bool {
	if !n.valid.CompareAndSwap(0, Magic) {
		return false
	}
	n.cycles.Store(0)
	n.next = nil
	return true
}

// Add attributes delta cycles to the node using saturating addition.
//
//go:nosplit
func (n *Node) Add(delta uint64) {
	n.cycles.Store(Accumulate(n.cycles.Load(), delta))
}

// Reset zeroes the accumulated cycles.
func (n *Node) Reset() {
	n.cycles.Store(0)
}

// Accumulate returns total+delta, pinned at math.MaxUint64 instead of
// wrapping around.
//
// Examples:
//
//	Accumulate(math.MaxUint64, 1)   == math.MaxUint64
//	Accumulate(math.MaxUint64-5, 3) == math.MaxUint64-2
//
//go:nosplit
func Accumulate(total, delta uint64) uint64 {
	if math.MaxUint64-total >= delta {
		return total + delta
	}
	return math.MaxUint64
}
