package callstack

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/cycleprof/internal/prof/node"
)

// newNodes returns activated nodes for the given function addresses.
func newNodes(t *testing.T, fns ...uintptr) (*node.Registry, []*node.Node) {
	t.Helper()
	reg := node.NewRegistry()
	tab := node.NewTable(reg)
	nodes := make([]*node.Node, len(fns))
	for i, fn := range fns {
		nodes[i], _ = tab.LoadOrCreate(fn)
	}
	return reg, nodes
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("clamp")
	require.NoError(t, err)
	assert.Equal(t, Clamp, p)

	p, err = ParsePolicy(" GROW ")
	require.NoError(t, err)
	assert.Equal(t, Grow, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Clamp, p)

	_, err = ParsePolicy("drop")
	assert.Error(t, err)

	assert.Equal(t, "grow", Grow.String())
	assert.Equal(t, "Policy(7)", Policy(7).String())
}

func TestTracker_UnmatchedExitIgnored(t *testing.T) {
	tr := New(4, Clamp)
	assert.False(t, tr.Exit(100))
	assert.Zero(t, tr.Depth())
	assert.Nil(t, tr.Top())
}

func TestTracker_SingleFunction(t *testing.T) {
	_, nodes := newNodes(t, 0xA0)
	tr := New(4, Clamp)

	tr.Enter(nodes[0], 100)
	assert.Equal(t, 1, tr.Depth())
	assert.Same(t, nodes[0], tr.Top())
	require.True(t, tr.Exit(175))

	assert.Equal(t, uint64(75), nodes[0].Cycles())
	assert.Zero(t, tr.Depth())
}

// A calls B twice, B is a leaf. Counter readings are 0..50 in steps of 10
// at the six boundaries: A enter, B enter, B exit, B enter, B exit, A exit.
func TestTracker_CallerCalleeAttribution(t *testing.T) {
	reg, nodes := newNodes(t, 0xA000, 0xB000)
	a, b := nodes[0], nodes[1]
	tr := New(DefaultCapacity, Clamp)

	tr.Enter(a, 0)
	tr.Enter(b, 10)
	tr.Exit(20)
	tr.Enter(b, 30)
	tr.Exit(40)
	tr.Exit(50)

	assert.Equal(t, uint64(30), a.Cycles(), "A: [0,10) + [20,30) + [40,50)")
	assert.Equal(t, uint64(20), b.Cycles(), "B: [10,20) + [30,40)")
	assert.Zero(t, tr.Depth())

	var total uint64
	reg.Range(func(n *node.Node) bool {
		total += n.Cycles()
		return true
	})
	assert.Equal(t, uint64(50), total)
}

// For any balanced sequence of events on one goroutine, the sum over nodes
// equals the time spent with at least one frame open. Gaps between
// top-level calls belong to no function.
func TestTracker_BalancedSequencesConserveCycles(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, policy := range []Policy{Clamp, Grow} {
		for round := 0; round < 50; round++ {
			reg, nodes := newNodes(t, 0x100, 0x200, 0x300, 0x400, 0x500)
			tr := New(3, policy)

			now := uint64(rng.Intn(1000))
			var want uint64
			open := 0
			for step := 0; step < 200; step++ {
				delta := uint64(rng.Intn(50))
				now += delta
				if open > 0 {
					want += delta
				}
				if open == 0 || (rng.Intn(2) == 0 && open < 10) {
					tr.Enter(nodes[rng.Intn(len(nodes))], now)
					open++
				} else {
					tr.Exit(now)
					open--
				}
			}
			for open > 0 {
				delta := uint64(rng.Intn(50))
				now += delta
				want += delta
				tr.Exit(now)
				open--
			}

			var total uint64
			reg.Range(func(n *node.Node) bool {
				total += n.Cycles()
				return true
			})
			require.Equal(t, want, total, "policy %s round %d", policy, round)
			require.Zero(t, tr.Depth())
		}
	}
}

func TestTracker_OverflowClampsToLastSlot(t *testing.T) {
	_, nodes := newNodes(t, 0x1, 0x2, 0x3, 0x4, 0x5)
	tr := New(2, Clamp)

	// Depth 5 on a 2-slot stack: nodes[2..4] are never stored.
	for i, n := range nodes {
		tr.Enter(n, uint64(i*10))
	}
	assert.Equal(t, 5, tr.Depth())
	assert.Equal(t, uint64(3), tr.Overflowed())
	assert.Same(t, nodes[1], tr.Top())

	for i := 0; i < 5; i++ {
		require.True(t, tr.Exit(uint64(40+(i+1)*10)))
	}
	assert.Zero(t, tr.Depth())

	assert.Equal(t, uint64(10+10), nodes[0].Cycles(), "[0,10) and [80,90)")
	assert.Equal(t, uint64(70), nodes[1].Cycles(), "[10,80): own body plus every clamped frame")
	for _, n := range nodes[2:] {
		assert.Zero(t, n.Cycles(), "clamped frames are never charged directly")
	}
}

func TestTracker_GrowNeverClamps(t *testing.T) {
	_, nodes := newNodes(t, 0x1, 0x2, 0x3, 0x4)
	tr := New(1, Grow)

	for i, n := range nodes {
		tr.Enter(n, uint64(i*10))
	}
	assert.Zero(t, tr.Overflowed())
	assert.Same(t, nodes[3], tr.Top())

	for i := 0; i < 4; i++ {
		tr.Exit(uint64(40 + i*10))
	}
	// Outer frames are charged once on the way down and once on the way up;
	// the innermost frame only runs during [30,40).
	for _, n := range nodes[:3] {
		assert.Equal(t, uint64(20), n.Cycles())
	}
	assert.Equal(t, uint64(10), nodes[3].Cycles())
}

func TestTracker_RecursionChargesSameNode(t *testing.T) {
	_, nodes := newNodes(t, 0xF1B)
	fib := nodes[0]
	tr := New(DefaultCapacity, Clamp)

	tr.Enter(fib, 0)
	tr.Enter(fib, 5)
	tr.Enter(fib, 7)
	tr.Exit(8)
	tr.Exit(20)
	tr.Exit(21)

	assert.Equal(t, uint64(21), fib.Cycles())
}

func TestTracker_CounterWraparound(t *testing.T) {
	_, nodes := newNodes(t, 0xC0)
	tr := New(4, Clamp)

	// Unsigned subtraction across a counter wrap still yields the true delta.
	tr.Enter(nodes[0], ^uint64(0)-4)
	tr.Exit(5)
	assert.Equal(t, uint64(10), nodes[0].Cycles())
}

func BenchmarkTracker_EnterExit(b *testing.B) {
	reg := node.NewRegistry()
	tab := node.NewTable(reg)
	n, _ := tab.LoadOrCreate(0xBEEF)
	tr := New(DefaultCapacity, Clamp)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Enter(n, uint64(i))
		tr.Exit(uint64(i + 1))
	}
}
