package node

import "sync/atomic"

// Registry is the process-wide singly linked list of activated nodes.
//
// The list only grows. Publication is a compare-and-swap push onto the head
// pointer, so publishers never block each other and no node is lost under
// any interleaving. The order of the list is most-recently-published first
// and carries no meaning.
//
// Thread Safety: Publish and Range are safe for concurrent use.
type Registry struct {
	head atomic.Pointer[Node]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish links n into the registry.
//
// After Publish returns, n is reachable from Head by every goroutine that
// walks the registry afterwards. n must not be published twice; Table
// guarantees this by publishing only from the goroutine that won Activate.
//
//go:nosplit
func (r *Registry) Publish(n *Node) {
	for {
		old := r.head.Load()
		n.next = old
		if r.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// Head returns the most recently published node, or nil if the registry is
// empty.
func (r *Registry) Head() *Node {
	return r.head.Load()
}

// Range calls fn for every node reachable from the head until fn returns
// false.
//
// Nodes published while Range is running may or may not be visited.
func (r *Registry) Range(fn func(*Node) bool) {
	for n := r.head.Load(); n != nil; n = n.next {
		if !fn(n) {
			return
		}
	}
}

// Len returns the number of reachable nodes.
//
// Performance: O(N). Not for hot paths.
func (r *Registry) Len() int {
	count := 0
	r.Range(func(*Node) bool {
		count++
		return true
	})
	return count
}
