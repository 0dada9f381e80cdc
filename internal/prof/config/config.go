// Package config loads profiler settings from the environment.
//
// Every key can be set through an environment variable named after the key
// with the CYCPROF_ prefix, dashes replaced by underscores:
//
//	CYCPROF_STACK_DEPTH=256 CYCPROF_OVERFLOW=grow ./app
//
// The CLI binds the same keys to command-line flags.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/kolkov/cycleprof/internal/prof/callstack"
	"github.com/kolkov/cycleprof/internal/prof/cycles"
)

// EnvPrefix is prepended to every key when reading the environment.
const EnvPrefix = "CYCPROF"

// Configuration keys.
const (
	KeyStackDepth = "stack-depth"
	KeyOverflow   = "overflow"
	KeyClock      = "clock"
	KeyOutput     = "output"
	KeyDumpOnExit = "dump-on-exit"
	KeyLogLevel   = "log-level"
)

// Output names that select a standard stream instead of a file.
const (
	OutputStderr = "stderr"
	OutputStdout = "stdout"
)

// Config holds the validated profiler settings.
type Config struct {
	// StackDepth is the call-stack capacity per goroutine.
	StackDepth int

	// Overflow is applied when a goroutine nests deeper than StackDepth.
	Overflow callstack.Policy

	// Clock selects the counter read on every event.
	//
	// "perf" counts the OS thread that opens it (the one calling Init).
	// Hooks running on any other thread read that thread's counter, so perf
	// only gives meaningful numbers for a program pinned to one thread with
	// runtime.LockOSThread.
	Clock cycles.Source

	// Output is "stderr", "stdout", or a file path dumps are appended to.
	Output string

	// DumpOnExit makes Fini write a final dump.
	DumpOnExit bool

	// LogLevel is the profiler's own log level.
	LogLevel zerolog.Level
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		StackDepth: callstack.DefaultCapacity,
		Overflow:   callstack.Clamp,
		Clock:      cycles.SourceNanotime,
		Output:     OutputStderr,
		DumpOnExit: true,
		LogLevel:   zerolog.InfoLevel,
	}
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyStackDepth, d.StackDepth)
	v.SetDefault(KeyOverflow, d.Overflow.String())
	v.SetDefault(KeyClock, string(d.Clock))
	v.SetDefault(KeyOutput, d.Output)
	v.SetDefault(KeyDumpOnExit, d.DumpOnExit)
	v.SetDefault(KeyLogLevel, d.LogLevel.String())
}

// New returns a viper instance reading CYCPROF_* variables with defaults
// registered.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// EnvVar returns the environment variable read for key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	return FromViper(New())
}

// FromViper validates the settings held by v.
//
// On error the returned Config is Default().
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Default()

	depth := v.GetInt(KeyStackDepth)
	if depth <= 0 {
		return Default(), fmt.Errorf("%s: must be positive, got %q", KeyStackDepth, v.GetString(KeyStackDepth))
	}
	cfg.StackDepth = depth

	policy, err := callstack.ParsePolicy(v.GetString(KeyOverflow))
	if err != nil {
		return Default(), fmt.Errorf("%s: %w", KeyOverflow, err)
	}
	cfg.Overflow = policy

	src, err := cycles.ParseSource(v.GetString(KeyClock))
	if err != nil {
		return Default(), fmt.Errorf("%s: %w", KeyClock, err)
	}
	cfg.Clock = src

	cfg.Output = strings.TrimSpace(v.GetString(KeyOutput))
	if cfg.Output == "" {
		cfg.Output = OutputStderr
	}

	cfg.DumpOnExit = v.GetBool(KeyDumpOnExit)

	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString(KeyLogLevel)))
	if err != nil {
		return Default(), fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

// OpenOutput resolves an Output setting to a writer. Files are created if
// missing and appended to. The returned close function is never nil.
func OpenOutput(name string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(name) {
	case "", OutputStderr:
		return os.Stderr, noop, nil
	case OutputStdout:
		return os.Stdout, noop, nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, noop, fmt.Errorf("open profile output: %w", err)
	}
	return f, f.Close, nil
}
