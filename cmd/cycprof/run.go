package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kolkov/cycleprof/internal/prof/config"
)

// profilerFlag binds a command-line flag to a runtime configuration key.
type profilerFlag struct {
	key  string
	flag string
}

// profilerFlags are forwarded to the program as CYCPROF_* variables.
var profilerFlags = []profilerFlag{
	{config.KeyStackDepth, "stack-depth"},
	{config.KeyOverflow, "overflow"},
	{config.KeyClock, "clock"},
	{config.KeyOutput, "profile-output"},
	{config.KeyDumpOnExit, "dump-on-exit"},
}

// registerProfilerFlags adds the runtime settings to fs and binds them to v.
func registerProfilerFlags(fs *pflag.FlagSet, v *viper.Viper) {
	d := config.Default()
	fs.Int("stack-depth", d.StackDepth, "call-stack capacity per goroutine")
	fs.String("overflow", d.Overflow.String(), "overflow policy: clamp or grow")
	fs.String("clock", string(d.Clock), "counter source: nanotime, tsc or perf")
	fs.String("profile-output", d.Output, "where dumps go: stderr, stdout or a file path")
	fs.Bool("dump-on-exit", d.DumpOnExit, "write a final dump when main returns")
	for _, pf := range profilerFlags {
		_ = v.BindPFlag(pf.key, fs.Lookup(pf.flag))
	}
}

// profilerEnv returns CYCPROF_* assignments for the flags set on fs.
// Unset flags are left to the inherited environment.
func profilerEnv(fs *pflag.FlagSet, v *viper.Viper) []string {
	var env []string
	for _, pf := range profilerFlags {
		if fs.Changed(pf.flag) {
			env = append(env, config.EnvVar(pf.key)+"="+v.GetString(pf.key))
		}
	}
	return env
}

func (a *app) runCmd() *cobra.Command {
	gf := &goFlags{}
	pv := config.New()
	verbose := false

	cmd := &cobra.Command{
		Use:   "run [flags] sources... [--] [program args]",
		Short: "Build and run a Go program with cycle profiling",
		Long: `run instruments and builds the sources into a temporary binary and executes
it. Leading .go files (or a single directory) are the sources; the remaining
arguments are passed to the program. The exit status of the program is the
exit status of run.`,
		Example: `  cycprof run main.go
  cycprof run --overflow grow --profile-output prof.log . -- -n 10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromViper(pv); err != nil {
				return fmt.Errorf("invalid profiler setting: %w", err)
			}

			sources, programArgs := splitRunArgs(args)
			cfg := &buildConfig{verbose: verbose}
			if err := cfg.finish(sources, gf.args()); err != nil {
				return err
			}

			tempBinary, err := a.buildTemporary(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = os.Remove(tempBinary) }()

			env := append(os.Environ(), profilerEnv(cmd.Flags(), pv)...)
			return a.executeBinary(tempBinary, programArgs, env)
		},
	}

	f := cmd.Flags()
	f.SetInterspersed(false)
	f.BoolVarP(&verbose, "verbose", "v", false, "print per-file instrumentation statistics")
	gf.register(f)
	registerProfilerFlags(f, pv)
	return cmd
}

// splitRunArgs separates sources from program arguments.
//
// Sources are the leading .go files; if the first argument is not a .go
// file it alone names the source directory. A "--" ahead of the program
// arguments is dropped.
func splitRunArgs(args []string) (sources, programArgs []string) {
	i := 0
	for i < len(args) && filepath.Ext(args[i]) == ".go" {
		i++
	}
	if i == 0 && len(args) > 0 && args[0] != "--" {
		i = 1
	}
	sources, programArgs = args[:i], args[i:]
	if len(programArgs) > 0 && programArgs[0] == "--" {
		programArgs = programArgs[1:]
	}
	return sources, programArgs
}

// buildTemporary builds the program into a temporary executable.
func (a *app) buildTemporary(cfg *buildConfig) (string, error) {
	tempBinary, err := os.CreateTemp("", "cycprof-run-*.exe")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempBinary.Name()
	_ = tempBinary.Close()

	cfg.outputFile = tempPath
	if err := a.build(cfg); err != nil {
		_ = os.Remove(tempPath)
		return "", err
	}
	return tempPath, nil
}

// executeBinary runs the built program with the tool's standard streams.
//
// A non-zero exit status is returned as *exitError so that main can exit
// with the same code.
func (a *app) executeBinary(binaryPath string, args, env []string) error {
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = a.out
	cmd.Stderr = a.errOut

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &exitError{code: exitErr.ExitCode()}
		}
		return fmt.Errorf("failed to execute %s: %w", binaryPath, err)
	}
	return nil
}
