package node

import (
	"sync"
	"sync/atomic"
)

const (
	// tableSlots is the number of slots in the fixed identity array (2^16).
	tableSlots = 1 << 16

	// tableMask wraps a probe index into [0, tableSlots).
	tableMask = tableSlots - 1

	// maxProbes bounds linear probing before falling back to the overflow map.
	maxProbes = 8
)

// Table maps function entry addresses to their counter nodes and registers
// each node exactly once.
//
// The original profiler placed the node inside padding in front of the
// function's code, so "find the node" was address arithmetic. Go has no such
// padding, so the table gives every address a stable slot instead:
//
//   - Fixed-size array of 65536 atomic pointers (512KB)
//   - Multiplicative hash of the address selects the first slot
//   - Linear probing (max 8 probes), insertion by compare-and-swap
//   - sync.Map overflow for addresses whose probe window is full
//
// Performance characteristics:
//   - Lookup (hit): one hash and typically one atomic load, zero allocations
//   - First sight: one allocation, one CAS into the slot, one CAS on the
//     validity marker and one CAS on the registry head
//
// Thread Safety: All methods are safe for concurrent use.
type Table struct {
	slots    [tableSlots]atomic.Pointer[Node]
	overflow sync.Map // uintptr -> *Node
	registry *Registry
	count    atomic.Int64
}

// NewTable creates an empty table publishing into reg.
//
// Example:
//
//	reg := node.NewRegistry()
//	tab := node.NewTable(reg)
//	n, created := tab.LoadOrCreate(fnAddr)
func NewTable(reg *Registry) *Table {
	return &Table{registry: reg}
}

// Registry returns the registry this table publishes into.
func (t *Table) Registry() *Registry {
	return t.registry
}

// slotHash computes the first probe slot for a function address.
//
// Golden-ratio multiplicative hashing; the top 16 bits of the product are
// used so that nearby addresses (functions laid out next to each other) land
// far apart.
//
//go:nosplit
func slotHash(fn uintptr) uint64 {
	const goldenRatio = 0x9E3779B97F4A7C15
	return (uint64(fn) * goldenRatio) >> 48
}

// Load returns the node for fn, or nil if fn was never seen.
//
//go:nosplit
func (t *Table) Load(fn uintptr) *Node {
	hash := slotHash(fn)
	for i := uint64(0); i < maxProbes; i++ {
		n := t.slots[(hash+i)&tableMask].Load()
		if n == nil {
			return nil
		}
		if n.fn == fn {
			return n
		}
	}
	if v, ok := t.overflow.Load(fn); ok {
		return v.(*Node)
	}
	return nil
}

// LoadOrCreate returns the node for fn, creating, activating and publishing
// it on first sight.
//
// Multiple goroutines calling LoadOrCreate for the same address concurrently
// all receive the same node, and the node is published to the registry
// exactly once.
//
// The candidate is activated before it becomes visible in the table, so a
// node returned by Load is always valid and never re-zeroed. A candidate
// that loses the slot race is dropped. Between the slot store and Publish the
// node already accumulates but is not yet reachable by a dump; those cycles
// show up in the next one.
//
// Returns:
//   - *Node: the node for fn (never nil)
//   - bool: true if this call created and published the node
func (t *Table) LoadOrCreate(fn uintptr) (*Node, bool) {
	if n := t.Load(fn); n != nil {
		return n, false
	}

	candidate := newNode(fn)
	candidate.Activate()
	n := t.store(candidate)
	if n != candidate {
		// Lost the race: another goroutine owns the node.
		return n, false
	}

	t.registry.Publish(n)
	t.count.Add(1)
	return n, true
}

// store inserts candidate into its probe window, or returns the node already
// stored for the same address.
func (t *Table) store(candidate *Node) *Node {
	hash := slotHash(candidate.fn)
	for i := uint64(0); i < maxProbes; i++ {
		slot := &t.slots[(hash+i)&tableMask]

		cur := slot.Load()
		if cur == nil {
			if slot.CompareAndSwap(nil, candidate) {
				return candidate
			}
			// Someone else filled the slot. Reload and check.
			cur = slot.Load()
		}

		if cur.fn == candidate.fn {
			return cur
		}
	}

	// Probe window exhausted.
	actual, _ := t.overflow.LoadOrStore(candidate.fn, candidate)
	return actual.(*Node)
}

// Len returns the number of nodes created through this table.
func (t *Table) Len() int {
	return int(t.count.Load())
}

// CollisionStats returns slot occupancy statistics.
//
// Returns:
//   - occupied: number of non-empty slots in the fixed array
//   - displaced: number of nodes stored away from their home slot
//   - overflowed: number of nodes held in the overflow map
//
// Note: This is for diagnostics only, not used on hot path.
func (t *Table) CollisionStats() (occupied, displaced, overflowed int) {
	for i := range t.slots {
		n := t.slots[i].Load()
		if n == nil {
			continue
		}
		occupied++
		if uint64(i) != slotHash(n.fn) {
			displaced++
		}
	}
	t.overflow.Range(func(_, _ any) bool {
		overflowed++
		return true
	})
	return occupied, displaced, overflowed
}
