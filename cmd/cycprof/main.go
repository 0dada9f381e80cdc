// Package main implements the cycprof CLI tool.
//
// cycprof adds always-on cycle profiling to Go programs without touching the
// toolchain. It works by:
//
//  1. Parsing Go source files using go/ast
//  2. Inserting `defer prof.Exit(prof.Enter())` into every function
//  3. Linking the profiler runtime through a temporary go.mod
//  4. Building or running the instrumented code
//
// Profiles are written by the program itself as "PROFILE DUMP:" blocks;
// `cycprof decode` turns captured output into a table, JSON, or a pprof file.
//
// Usage:
//
//	cycprof instrument -o out/ main.go   # Write instrumented copies
//	cycprof build -o app .               # Build with profiling
//	cycprof run main.go -- -flag=value   # Run with profiling
//	cycprof decode --sum app.log         # Summarize captured dumps
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kolkov/cycleprof/internal/prof/config"
	"github.com/kolkov/cycleprof/prof"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).rootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		_, _ = os.Stderr.Write([]byte(color.RedString("Error: ") + err.Error() + "\n"))
		os.Exit(1)
	}
}

// exitError carries the exit status of a program started by `cycprof run`.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// app holds the state shared by all subcommands.
type app struct {
	out    io.Writer
	errOut io.Writer
	log    zerolog.Logger

	// v holds the tool's own settings (log level).
	v *viper.Viper

	// goCmd runs the go tool; replaced in tests.
	goCmd func(dir string, args ...string) error
}

func newApp(out, errOut io.Writer) *app {
	a := &app{
		out:    out,
		errOut: errOut,
		log:    zerolog.New(zerolog.ConsoleWriter{Out: errOut, NoColor: color.NoColor}).With().Timestamp().Logger(),
		v:      viper.New(),
	}
	a.goCmd = a.runGo

	a.v.SetEnvPrefix(config.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	return a
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cycprof",
		Short: "Always-on cycle profiling for Go programs",
		Long: `cycprof instruments Go sources so that every function charges the cycles
spent in its own body to a per-function counter. Instrumented programs dump
the counters as base64 CBOR blocks headed by "PROFILE DUMP:".`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setupLogger,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().String("log-level", "info", "log level of the tool (debug, info, warn, error)")
	_ = a.v.BindPFlag(config.KeyLogLevel, root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		a.instrumentCmd(),
		a.buildCmd(),
		a.runCmd(),
		a.decodeCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) setupLogger(*cobra.Command, []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(a.v.GetString(config.KeyLogLevel)))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	a.log = a.log.Level(level)
	return nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			info := prof.GetInfo()
			fmt.Fprintf(a.out, "cycprof version %s\ndump format: %s\n", info.Version, info.Format)
		},
	}
}
