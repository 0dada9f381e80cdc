package api

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/kolkov/cycleprof/internal/prof/callstack"
	"github.com/kolkov/cycleprof/internal/prof/config"
	"github.com/kolkov/cycleprof/internal/prof/cycles"
)

// Options configures InitWithOptions. The zero value is usable.
type Options struct {
	// StackDepth is the call-stack capacity per goroutine,
	// callstack.DefaultCapacity if not positive.
	StackDepth int

	// Overflow selects the behaviour beyond StackDepth.
	Overflow callstack.Policy

	// Counter is read on every event, cycles.Nanotime() if nil.
	Counter cycles.Counter

	// Output receives Dump output, os.Stderr if nil.
	Output io.Writer

	// DumpOnExit makes Fini write a final dump to Output.
	DumpOnExit bool

	// Ready is consulted on every event after the enabled and initialized
	// checks. Events are dropped while it returns false.
	Ready func() bool

	// Logger replaces the default stderr logger.
	Logger *zerolog.Logger

	// closers release resources opened by optionsFromConfig.
	closers []func() error
}

func newLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Str("component", "cycleprof").
		Logger()
}

// optionsFromConfig opens the counter and output named by cfg.
//
// A counter that cannot be opened falls back to the runtime clock and is
// reported as a non-fatal error.
func optionsFromConfig(cfg config.Config) (Options, error) {
	logger := newLogger(cfg.LogLevel)
	opts := Options{
		StackDepth: cfg.StackDepth,
		Overflow:   cfg.Overflow,
		DumpOnExit: cfg.DumpOnExit,
		Logger:     &logger,
	}

	out, closeOut, err := config.OpenOutput(cfg.Output)
	if err != nil {
		return Options{Logger: &logger, DumpOnExit: cfg.DumpOnExit}, err
	}
	opts.Output = out
	opts.closers = append(opts.closers, closeOut)

	counter, closeCounter, err := cycles.Open(cfg.Clock)
	if err != nil {
		opts.Counter = cycles.Nanotime()
		return opts, err
	}
	opts.Counter = counter
	opts.closers = append(opts.closers, closeCounter)
	return opts, nil
}
