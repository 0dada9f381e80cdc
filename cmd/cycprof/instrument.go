package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/kolkov/cycleprof/cmd/cycprof/instrument"
)

// instrumentConfig holds parsed instrument command configuration.
type instrumentConfig struct {
	outDir  string
	inPlace bool
	verbose bool
}

func (a *app) instrumentCmd() *cobra.Command {
	cfg := &instrumentConfig{}

	cmd := &cobra.Command{
		Use:   "instrument [flags] sources...",
		Short: "Write instrumented copies of Go source files",
		Long: `instrument inserts the profiler hooks into each file. With a single file and
no -o or -w the result is printed to stdout.`,
		Example: `  cycprof instrument main.go
  cycprof instrument -o /tmp/out ./cmd/app
  cycprof instrument -w work.go`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.instrumentFiles(cfg, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.outDir, "output", "o", "", "directory to write instrumented files to")
	f.BoolVarP(&cfg.inPlace, "write", "w", false, "rewrite the files in place")
	f.BoolVarP(&cfg.verbose, "verbose", "v", false, "print per-file instrumentation statistics")
	return cmd
}

func (a *app) instrumentFiles(cfg *instrumentConfig, sources []string) error {
	if cfg.outDir != "" && cfg.inPlace {
		return fmt.Errorf("-o and -w are mutually exclusive")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	goFiles, err := collectGoFiles(sources, cwd)
	if err != nil {
		return err
	}
	if len(goFiles) == 0 {
		return fmt.Errorf("no Go source files found")
	}

	toStdout := cfg.outDir == "" && !cfg.inPlace
	if toStdout && len(goFiles) > 1 {
		return fmt.Errorf("%d files to instrument; use -o or -w", len(goFiles))
	}
	if cfg.outDir != "" {
		if err := checkFlatten(goFiles); err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var errs *multierror.Error
	for _, srcPath := range goFiles {
		result, err := instrument.InstrumentFile(srcPath, nil)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		switch {
		case toStdout:
			_, err = fmt.Fprint(a.out, result.Code)
		case cfg.inPlace:
			err = writeFileKeepMode(srcPath, []byte(result.Code))
		default:
			err = os.WriteFile(filepath.Join(cfg.outDir, filepath.Base(srcPath)), []byte(result.Code), 0o644)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to write %s: %w", srcPath, err))
			continue
		}
		a.logStats(srcPath, result, cfg.verbose)
	}
	return errs.ErrorOrNil()
}

// writeFileKeepMode replaces the contents of path, keeping its permissions.
func writeFileKeepMode(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, info.Mode().Perm())
}
