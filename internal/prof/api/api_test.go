package api

import (
	"bytes"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/cycleprof/internal/prof/callstack"
	"github.com/kolkov/cycleprof/internal/prof/cycles"
	"github.com/kolkov/cycleprof/internal/prof/dump"
	"github.com/kolkov/cycleprof/internal/prof/goroutine"
)

// setup installs a fresh profiler for one test.
func setup(t *testing.T, opts Options) {
	t.Helper()
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	InitWithOptions(opts)
	t.Cleanup(Fini)
}

// snapshot dumps the profiler and returns the records keyed by address.
func snapshot(t *testing.T) map[uint64]uint64 {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, DumpTo(&buf))
	windows, err := dump.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, windows, 1)

	out := make(map[uint64]uint64)
	for _, r := range windows[0] {
		out[r.Fn] = r.Cycles
	}
	return out
}

func TestNotInitialized(t *testing.T) {
	Fini()

	FuncEnter(0x1000, 0)
	FuncExit(0x1000, 0)
	assert.False(t, Enabled())
	assert.Zero(t, Stats().Functions)
	assert.ErrorIs(t, Dump(), ErrNotInitialized)
	assert.ErrorIs(t, DumpTo(&bytes.Buffer{}), ErrNotInitialized)
	assert.Equal(t, Frame{}, Enter(0))
}

// A calls B twice; counter readings 0..50 step 10.
func TestCallerCalleeAttribution(t *testing.T) {
	const fnA, fnB = 0xA000, 0xB000
	setup(t, Options{Counter: cycles.NewSequence(0, 10, 20, 30, 40, 50)})

	FuncEnter(fnA, 0x1)
	FuncEnter(fnB, 0xA010)
	FuncExit(fnB, 0xA010)
	FuncEnter(fnB, 0xA020)
	FuncExit(fnB, 0xA020)
	FuncExit(fnA, 0x1)

	got := snapshot(t)
	assert.Equal(t, map[uint64]uint64{fnA: 30, fnB: 20}, got)
	assert.Equal(t, 2, Stats().Functions)
	assert.Zero(t, Stats().UnmatchedExits)
}

func TestDumpTwiceSecondIsZero(t *testing.T) {
	setup(t, Options{Counter: cycles.NewSequence(0, 100)})

	FuncEnter(0x10, 0)
	FuncExit(0x10, 0)

	assert.Equal(t, map[uint64]uint64{0x10: 100}, snapshot(t))
	assert.Equal(t, map[uint64]uint64{0x10: 0}, snapshot(t))
	assert.Equal(t, uint64(2), Stats().Dumps)
}

func TestSameFunctionDifferentCallSites(t *testing.T) {
	setup(t, Options{})

	for _, site := range []uintptr{0x100, 0x200, 0x300} {
		FuncEnter(0x5000, site)
		FuncExit(0x5000, site)
	}
	assert.Equal(t, 1, Stats().Functions)
}

func TestConcurrentRegistration(t *testing.T) {
	setup(t, Options{})

	const goroutines = 64
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn := uintptr(0x100000 + i*64)
			FuncEnter(fn, 0)
			FuncEnter(0x999000, fn) // shared callee
			FuncExit(0x999000, fn)
			FuncExit(fn, 0)
		}(i)
	}
	wg.Wait()

	got := snapshot(t)
	assert.Len(t, got, goroutines+1)
	assert.Equal(t, goroutines+1, Stats().Functions)
}

func TestUnmatchedExitIgnored(t *testing.T) {
	setup(t, Options{Counter: cycles.NewSequence(5)})

	FuncExit(0x1, 0)
	assert.Zero(t, Stats().Functions)
	assert.Zero(t, Stats().Goroutines, "an exit never allocates a call stack")
}

func TestMismatchedExitCounted(t *testing.T) {
	setup(t, Options{Counter: cycles.NewSequence(0, 7)})

	FuncEnter(0x1, 0)
	FuncExit(0x2, 0)

	assert.Equal(t, uint64(1), Stats().UnmatchedExits)
	assert.Equal(t, map[uint64]uint64{0x1: 7}, snapshot(t), "attribution follows the stack")
}

func TestOverflowClamp(t *testing.T) {
	setup(t, Options{StackDepth: 2, Overflow: callstack.Clamp})

	for fn := uintptr(1); fn <= 5; fn++ {
		FuncEnter(fn, 0)
	}
	for fn := uintptr(5); fn >= 1; fn-- {
		FuncExit(fn, 0)
	}

	st := Stats()
	assert.Equal(t, uint64(3), st.OverflowedFrames)
	assert.Zero(t, st.UnmatchedExits, "clamped exits are not compared")
}

func TestOverflowGrow(t *testing.T) {
	setup(t, Options{StackDepth: 2, Overflow: callstack.Grow})

	for fn := uintptr(1); fn <= 5; fn++ {
		FuncEnter(fn, 0)
	}
	for fn := uintptr(5); fn >= 1; fn-- {
		FuncExit(fn, 0)
	}
	assert.Zero(t, Stats().OverflowedFrames)
}

func TestReadiness(t *testing.T) {
	var ready bool
	setup(t, Options{Ready: func() bool { return ready }})

	FuncEnter(0x1, 0)
	assert.Zero(t, Stats().Functions)
	assert.False(t, Enabled())

	ready = true
	FuncEnter(0x1, 0)
	FuncExit(0x1, 0)
	assert.Equal(t, 1, Stats().Functions)
}

func TestEnableDisable(t *testing.T) {
	setup(t, Options{})

	Disable()
	FuncEnter(0x1, 0)
	assert.Zero(t, Stats().Functions)

	Enable()
	FuncEnter(0x1, 0)
	FuncExit(0x1, 0)
	assert.Equal(t, 1, Stats().Functions)
}

func TestReset(t *testing.T) {
	setup(t, Options{Counter: cycles.NewSequence(0, 10)})

	FuncEnter(0x1, 0)
	FuncExit(0x1, 0)
	require.Equal(t, 1, Stats().Goroutines)

	Reset()
	st := Stats()
	assert.Equal(t, 1, st.Functions, "registration survives Reset")
	assert.Zero(t, st.Goroutines)
	assert.Equal(t, map[uint64]uint64{0x1: 0}, snapshot(t))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }

func TestDumpError(t *testing.T) {
	setup(t, Options{Output: brokenWriter{}})

	FuncEnter(0x1, 0)
	FuncExit(0x1, 0)

	err := Dump()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe closed")
	assert.Equal(t, uint64(1), Stats().DumpErrors)
	assert.Zero(t, Stats().Dumps)
}

func TestFiniDumpsOnExit(t *testing.T) {
	var out bytes.Buffer
	nop := zerolog.Nop()
	InitWithOptions(Options{
		Counter:    cycles.NewSequence(0, 42),
		Output:     &out,
		DumpOnExit: true,
		Logger:     &nop,
	})

	FuncEnter(0x77, 0)
	FuncExit(0x77, 0)
	Fini()

	windows, err := dump.Parse(&out)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, []dump.Record{{Fn: 0x77, Cycles: 42}}, windows[0])

	// Hooks are inert after Fini.
	FuncEnter(0x78, 0)
	assert.Zero(t, Stats().Functions)
	Fini()
}

//go:noinline
func instrumented() {
	defer Exit(Enter(0))
}

func TestEnterExitHelpers(t *testing.T) {
	setup(t, Options{})

	instrumented()
	instrumented()

	got := snapshot(t)
	want := uint64(reflect.ValueOf(instrumented).Pointer())
	_, ok := got[want]
	assert.True(t, ok, "registered %x, want entry %#x", got, want)
	assert.Len(t, got, 1)
	assert.Zero(t, Stats().UnmatchedExits)
}

func TestCleanupDeadGoroutines(t *testing.T) {
	setup(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		FuncEnter(0x1, 0)
		FuncExit(0x1, 0)
	}()
	<-done
	FuncEnter(0x2, 0)
	defer FuncExit(0x2, 0)

	s := current.Load()
	require.Equal(t, 2, Stats().Goroutines)

	// The finished goroutine may still be winding down; retry briefly.
	require.Eventually(t, func() bool {
		s.cleanupDeadGoroutines()
		return Stats().Goroutines == 1
	}, time.Second, 10*time.Millisecond)
}

// parkDeep blocks on release with depth extra frames on the stack.
func parkDeep(depth int, release <-chan struct{}) {
	if depth == 0 {
		<-release
		return
	}
	parkDeep(depth-1, release)
}

// A goroutine with an open frame keeps its call stack across a reclamation
// scan, even when thousands of other goroutines make the stack dump large.
func TestCleanupKeepsLiveGoroutineAmongMany(t *testing.T) {
	if testing.Short() {
		t.Skip("starts 5000 goroutines")
	}
	setup(t, Options{Counter: cycles.NewSequence(0, 100)})

	release := make(chan struct{})
	var parked sync.WaitGroup
	for i := 0; i < 5000; i++ {
		parked.Add(1)
		go func() {
			defer parked.Done()
			parkDeep(10, release)
		}()
	}
	defer func() {
		close(release)
		parked.Wait()
	}()

	entered := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		FuncEnter(0xF00, 0)
		close(entered)
		<-proceed
		FuncExit(0xF00, 0)
	}()
	<-entered

	s := current.Load()
	assert.Zero(t, s.cleanupDeadGoroutines())
	close(proceed)
	<-done

	assert.Equal(t, uint64(100), snapshot(t)[0xF00])
	assert.Zero(t, Stats().UnmatchedExits)
}

// Contexts newer than the live snapshot are never reclaimed.
func TestCleanupKeepsContextsNewerThanSnapshot(t *testing.T) {
	setup(t, Options{})
	s := current.Load()

	const future = int64(1) << 62
	s.contexts.Store(future, goroutine.Alloc(future, s.capacity, s.policy))

	s.cleanupDeadGoroutines()
	_, ok := s.contexts.Load(future)
	assert.True(t, ok, "context stored after the snapshot was reclaimed")
}
