package api

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kolkov/cycleprof/internal/prof/callstack"
	"github.com/kolkov/cycleprof/internal/prof/config"
	"github.com/kolkov/cycleprof/internal/prof/cycles"
	"github.com/kolkov/cycleprof/internal/prof/dump"
	"github.com/kolkov/cycleprof/internal/prof/goroutine"
	"github.com/kolkov/cycleprof/internal/prof/metrics"
	"github.com/kolkov/cycleprof/internal/prof/node"
)

// ErrNotInitialized is returned by Dump and DumpTo before Init or after Fini.
var ErrNotInitialized = errors.New("cycleprof: profiler not initialized")

// cleanupInterval is the number of call-stack allocations between two scans
// for exited goroutines.
const cleanupInterval = 1000

// Global profiler state.
var (
	// enabled gates every hook. Enable/Disable flip it without touching
	// the collected data.
	enabled atomic.Bool

	// current is the state installed by the last Init, nil before Init and
	// after Fini.
	current atomic.Pointer[state]

	// lifecycleMu serializes Init, Fini and Reset.
	lifecycleMu sync.Mutex
)

// state is everything one Init..Fini cycle owns.
type state struct {
	reg   *node.Registry
	tab   *node.Table
	clock cycles.Counter
	ready func() bool
	log   zerolog.Logger

	capacity int
	policy   callstack.Policy

	// contexts maps goroutine IDs to their *goroutine.Context.
	// Most goroutines are looked up far more often than they are added,
	// which is the access pattern sync.Map is built for.
	contexts     sync.Map
	allocCounter atomic.Uint32

	dumpMu     sync.Mutex
	out        io.Writer
	dumpOnExit bool
	closers    []func() error

	dumps      atomic.Uint64
	dumpErrors atomic.Uint64
	overflowed atomic.Uint64
	unmatched  atomic.Uint64
}

func newState(opts Options) *state {
	reg := node.NewRegistry()
	s := &state{
		reg:        reg,
		tab:        node.NewTable(reg),
		clock:      opts.Counter,
		ready:      opts.Ready,
		capacity:   opts.StackDepth,
		policy:     opts.Overflow,
		out:        opts.Output,
		dumpOnExit: opts.DumpOnExit,
		closers:    opts.closers,
	}
	if s.clock == nil {
		s.clock = cycles.Nanotime()
	}
	if s.capacity <= 0 {
		s.capacity = callstack.DefaultCapacity
	}
	if s.out == nil {
		s.out = os.Stderr
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = newLogger(zerolog.InfoLevel)
	}
	return s
}

// active returns the state if hooks should record, nil otherwise.
func active() *state {
	if !enabled.Load() {
		return nil
	}
	s := current.Load()
	if s == nil || (s.ready != nil && !s.ready()) {
		return nil
	}
	return s
}

// context returns the calling goroutine's context, allocating it on first
// use.
func (s *state) context() *goroutine.Context {
	gid := goroutine.ID()
	if val, ok := s.contexts.Load(gid); ok {
		return val.(*goroutine.Context)
	}

	ctx := goroutine.Alloc(gid, s.capacity, s.policy)
	s.contexts.Store(gid, ctx)
	s.maybeCleanup()
	return ctx
}

// lookup returns the calling goroutine's context or nil.
func (s *state) lookup() *goroutine.Context {
	if val, ok := s.contexts.Load(goroutine.ID()); ok {
		return val.(*goroutine.Context)
	}
	return nil
}

// maybeCleanup starts a background scan for exited goroutines every
// cleanupInterval allocations.
func (s *state) maybeCleanup() {
	if s.allocCounter.Add(1)%cleanupInterval == 0 {
		go s.cleanupDeadGoroutines()
	}
}

// cleanupDeadGoroutines drops the contexts of goroutines that have exited.
// Goroutine IDs are never reused, so a dropped context is never needed
// again.
//
// IDs increase monotonically: a context whose ID is above the largest ID in
// the snapshot belongs to a goroutine started after the snapshot was taken
// and is kept.
func (s *state) cleanupDeadGoroutines() int {
	live := goroutine.LiveIDs()
	liveSet := make(map[int64]struct{}, len(live))
	var maxLive int64
	for _, gid := range live {
		liveSet[gid] = struct{}{}
		if gid > maxLive {
			maxLive = gid
		}
	}

	reclaimed := 0
	s.contexts.Range(func(key, _ interface{}) bool {
		gid := key.(int64)
		if gid > maxLive {
			return true
		}
		if _, ok := liveSet[gid]; !ok {
			s.contexts.Delete(key)
			reclaimed++
		}
		return true
	})

	s.log.Debug().
		Int("reclaimed", reclaimed).
		Int("live", len(live)).
		Msg("reclaimed call stacks of exited goroutines")
	return reclaimed
}

// dumpTo writes one framed dump to w.
func (s *state) dumpTo(w io.Writer) error {
	s.dumpMu.Lock()
	defer s.dumpMu.Unlock()

	if err := dump.WriteText(w, s.reg); err != nil {
		s.dumpErrors.Add(1)
		s.log.Error().Err(err).Msg("profile dump failed")
		return err
	}
	s.dumps.Add(1)
	return nil
}

func (s *state) close() error {
	var result *multierror.Error
	for _, c := range s.closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *state) stats() metrics.Stats {
	goroutines := 0
	s.contexts.Range(func(_, _ interface{}) bool {
		goroutines++
		return true
	})
	return metrics.Stats{
		Functions:        s.tab.Len(),
		Goroutines:       goroutines,
		Dumps:            s.dumps.Load(),
		DumpErrors:       s.dumpErrors.Load(),
		OverflowedFrames: s.overflowed.Load(),
		UnmatchedExits:   s.unmatched.Load(),
	}
}

// Init initializes the profiler from CYCPROF_* environment variables.
//
// Invalid settings are logged and replaced by defaults; Init never fails.
// Calling Init again discards all collected data and starts over.
//
// Example:
//
//	func main() {
//	    prof.Init()
//	    defer prof.Fini()
//	    ...
//	}
func Init() {
	cfg, cfgErr := config.Load()
	opts, openErr := optionsFromConfig(cfg)

	InitWithOptions(opts)

	log := opts.Logger
	if cfgErr != nil {
		log.Warn().Err(cfgErr).Msg("invalid profiler configuration, using defaults")
	}
	if openErr != nil {
		log.Warn().Err(openErr).Msg("profiler resource unavailable, using fallback")
	} else {
		warnThreadClock(log, cfg.Clock)
	}
}

// warnThreadClock reports that the perf counter only counts the OS thread
// that called Init. Goroutines running on other threads are charged with
// that thread's cycles.
func warnThreadClock(log *zerolog.Logger, clock cycles.Source) {
	if clock != cycles.SourcePerf {
		return
	}
	log.Warn().
		Str("clock", string(clock)).
		Msg("perf counter measures only the thread that called Init; lock the profiled goroutine with runtime.LockOSThread or use clock=tsc")
}

// InitWithOptions initializes the profiler with explicit options.
//
// Thread Safety: safe to call concurrently with hooks, which keep using the
// previous state until they return.
func InitWithOptions(opts Options) {
	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()

	s := newState(opts)
	if old := current.Swap(s); old != nil {
		if err := old.close(); err != nil {
			old.log.Warn().Err(err).Msg("closing previous profiler state")
		}
	}
	enabled.Store(true)

	s.log.Info().
		Int("stack_depth", s.capacity).
		Stringer("overflow", s.policy).
		Bool("dump_on_exit", s.dumpOnExit).
		Msg("profiler initialized")
}

// Fini stops profiling, writes the final dump if configured, and releases
// the output and counter. Hooks are no-ops afterwards until the next Init.
//
// Calling Fini without a preceding Init is a no-op.
func Fini() {
	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()

	s := current.Load()
	if s == nil {
		return
	}
	enabled.Store(false)

	if s.dumpOnExit {
		// Errors are already counted and logged by dumpTo.
		_ = s.dumpTo(s.out)
	}
	current.Store(nil)

	if err := s.close(); err != nil {
		s.log.Warn().Err(err).Msg("releasing profiler resources")
	}
	s.log.Info().
		Int("functions", s.tab.Len()).
		Uint64("dumps", s.dumps.Load()).
		Uint64("dump_errors", s.dumpErrors.Load()).
		Msg("profiler finalized")
}

// Reset discards collected cycles, call stacks and counters. Registered
// functions stay registered.
//
// Thread Safety: NOT safe to call while hooks run on other goroutines; a
// goroutine inside an instrumented function keeps a call stack that no
// longer exists.
func Reset() {
	lifecycleMu.Lock()
	defer lifecycleMu.Unlock()

	s := current.Load()
	if s == nil {
		return
	}
	s.reg.Range(func(n *node.Node) bool {
		n.Reset()
		return true
	})
	s.contexts.Range(func(key, _ interface{}) bool {
		s.contexts.Delete(key)
		return true
	})
	s.allocCounter.Store(0)
	s.dumps.Store(0)
	s.dumpErrors.Store(0)
	s.overflowed.Store(0)
	s.unmatched.Store(0)
}

// Enable resumes recording after Disable.
func Enable() {
	enabled.Store(true)
}

// Disable makes every hook a no-op. Collected data is kept.
//
// Call stacks are not unwound: functions that return while the profiler is
// disabled stay on their goroutine's stack.
func Disable() {
	enabled.Store(false)
}

// Enabled reports whether hooks are currently recording.
func Enabled() bool {
	return active() != nil
}

// Dump writes the registry to the configured output and resets every
// counter it reports.
//
// Format:
//
//	PROFILE DUMP:
//	<base64 CBOR: indefinite array of [function address, cycles]>
func Dump() error {
	s := current.Load()
	if s == nil {
		return ErrNotInitialized
	}
	return s.dumpTo(s.out)
}

// DumpTo is Dump with an explicit destination.
func DumpTo(w io.Writer) error {
	s := current.Load()
	if s == nil {
		return ErrNotInitialized
	}
	return s.dumpTo(w)
}

// Stats returns the profiler counters, all zero when not initialized.
func Stats() metrics.Stats {
	s := current.Load()
	if s == nil {
		return metrics.Stats{}
	}
	return s.stats()
}

// Collector returns a Prometheus collector reporting Stats.
func Collector() *metrics.Collector {
	return metrics.NewCollector(Stats)
}
