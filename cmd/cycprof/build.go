package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kolkov/cycleprof/cmd/cycprof/instrument"
	"github.com/kolkov/cycleprof/cmd/cycprof/runtime"
)

// buildConfig holds parsed build command configuration.
type buildConfig struct {
	// sourceFiles are the .go files or directories to instrument.
	sourceFiles []string

	// outputFile is the -o value ("" lets go build pick the name).
	outputFile string

	// buildFlags are passed through to go build unchanged.
	buildFlags []string

	// workDir is the directory relative paths are resolved against.
	workDir string

	// verbose enables per-file statistics.
	verbose bool

	// keepWork keeps the temporary workspace for inspection.
	keepWork bool
}

// goFlags are the go build flags cycprof understands itself. Anything else
// goes after "--".
type goFlags struct {
	tags     string
	ldflags  string
	gcflags  string
	trimpath bool
}

func (g *goFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.tags, "tags", "", "comma-separated build tags passed to go build")
	fs.StringVar(&g.ldflags, "ldflags", "", "linker flags passed to go build")
	fs.StringVar(&g.gcflags, "gcflags", "", "compiler flags passed to go build")
	fs.BoolVar(&g.trimpath, "trimpath", false, "remove file system paths from the binary")
}

func (g *goFlags) args() []string {
	var args []string
	if g.tags != "" {
		args = append(args, "-tags="+g.tags)
	}
	if g.ldflags != "" {
		args = append(args, "-ldflags="+g.ldflags)
	}
	if g.gcflags != "" {
		args = append(args, "-gcflags="+g.gcflags)
	}
	if g.trimpath {
		args = append(args, "-trimpath")
	}
	return args
}

func (a *app) buildCmd() *cobra.Command {
	cfg := &buildConfig{}
	gf := &goFlags{}

	cmd := &cobra.Command{
		Use:   "build [flags] [sources] [-- go build flags]",
		Short: "Build a Go program with cycle profiling",
		Example: `  cycprof build -o app .
  cycprof build -o app main.go helper.go -- -race`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, extra := splitAtDash(cmd, args)
			if err := cfg.finish(sources, append(gf.args(), extra...)); err != nil {
				return err
			}
			return a.build(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.outputFile, "output", "o", "", "write the resulting executable to the named file")
	f.BoolVarP(&cfg.verbose, "verbose", "v", false, "print per-file instrumentation statistics")
	f.BoolVar(&cfg.keepWork, "work", false, "print the name of the temporary work directory and keep it")
	gf.register(f)
	return cmd
}

// splitAtDash separates positional arguments from those after "--".
func splitAtDash(cmd *cobra.Command, args []string) (before, after []string) {
	if n := cmd.ArgsLenAtDash(); n >= 0 {
		return args[:n], args[n:]
	}
	return args, nil
}

// finish resolves defaults that depend on the environment.
func (c *buildConfig) finish(sources, buildFlags []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	c.workDir = cwd
	c.sourceFiles = sources
	if len(c.sourceFiles) == 0 {
		c.sourceFiles = []string{"."}
	}
	c.buildFlags = buildFlags
	return nil
}

// build instruments, links and compiles.
//
// Flow:
//  1. Create temporary workspace
//  2. Instrument all source files into it
//  3. Write go.mod linking the runtime and tidy it
//  4. Run go build
//  5. Clean up (unless --work)
func (a *app) build(cfg *buildConfig) error {
	w, err := createWorkspace()
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if cfg.keepWork {
		a.log.Info().Str("dir", w.dir).Msg("keeping work directory")
	} else {
		defer w.cleanup()
	}

	sourceDir, err := a.instrumentSources(cfg, w)
	if err != nil {
		return fmt.Errorf("failed to instrument sources: %w", err)
	}

	if err := a.setupRuntimeLinking(w, sourceDir); err != nil {
		return fmt.Errorf("failed to set up runtime: %w", err)
	}

	if err := a.goCmd(w.srcDir, w.buildArgs(cfg)...); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	if cfg.outputFile != "" {
		a.log.Info().Str("output", cfg.outputFile).Msg("built successfully")
	}
	return nil
}

// workspace is the temporary module instrumented sources are built in.
//
// Layout:
//
//	dir/go.mod  module "instrumented"
//	dir/src/    instrumented copies of the sources
type workspace struct {
	dir    string
	srcDir string
}

func createWorkspace() (*workspace, error) {
	dir, err := os.MkdirTemp("", "cycprof-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create src directory: %w", err)
	}

	return &workspace{dir: dir, srcDir: srcDir}, nil
}

func (w *workspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}

// buildArgs returns the go build command line run in srcDir.
func (w *workspace) buildArgs(cfg *buildConfig) []string {
	args := []string{"build"}
	if cfg.outputFile != "" {
		outputPath := cfg.outputFile
		if !filepath.IsAbs(outputPath) {
			outputPath = filepath.Join(cfg.workDir, outputPath)
		}
		args = append(args, "-o", outputPath)
	}
	args = append(args, cfg.buildFlags...)
	return append(args, ".")
}

// setupRuntimeLinking writes the workspace go.mod and resolves it.
//
// A local checkout of the profiler is preferred; without one the published
// module is fetched by go mod tidy.
func (a *app) setupRuntimeLinking(w *workspace, sourceDir string) error {
	root, err := runtime.FindProjectRoot()
	if err != nil {
		a.log.Debug().Err(err).Msg("no local checkout, using published runtime")
		root = ""
	}

	path, err := runtime.WriteModFile(w.dir, sourceDir, root)
	if err != nil {
		return err
	}
	a.log.Debug().Str("gomod", path).Str("runtime", root).Msg("wrote workspace go.mod")

	if err := a.goCmd(w.dir, "mod", "tidy"); err != nil {
		return fmt.Errorf("go mod tidy: %w", err)
	}
	return nil
}

// runGo runs the go tool in dir with the tool's output streams.
func (a *app) runGo(dir string, args ...string) error {
	a.log.Debug().Str("dir", dir).Strs("args", args).Msg("go")
	cmd := exec.Command("go", args...)
	cmd.Dir = dir
	cmd.Stdout = a.out
	cmd.Stderr = a.errOut
	return cmd.Run()
}

// instrumentSources instruments every collected file into w.srcDir.
//
// Files are all attempted; failures are collected and reported together.
//
// Returns:
//   - string: directory of the first source file, used to find the user's
//     go.mod
//   - error: aggregated instrumentation and write errors
func (a *app) instrumentSources(cfg *buildConfig, w *workspace) (string, error) {
	goFiles, err := collectGoFiles(cfg.sourceFiles, cfg.workDir)
	if err != nil {
		return "", fmt.Errorf("failed to collect source files: %w", err)
	}
	if len(goFiles) == 0 {
		return "", fmt.Errorf("no Go source files found")
	}
	if err := checkFlatten(goFiles); err != nil {
		return "", err
	}

	var errs *multierror.Error
	pkg := ""
	for _, srcPath := range goFiles {
		result, err := instrument.InstrumentFile(srcPath, nil)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if pkg == "" {
			pkg = result.Package
		} else if result.Package != pkg {
			errs = multierror.Append(errs, fmt.Errorf("%s: package %s, expected %s", srcPath, result.Package, pkg))
			continue
		}

		outPath := filepath.Join(w.srcDir, filepath.Base(srcPath))
		if err := os.WriteFile(outPath, []byte(result.Code), 0o644); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to write instrumented file %s: %w", outPath, err))
			continue
		}
		a.logStats(srcPath, result, cfg.verbose)
	}

	return filepath.Dir(goFiles[0]), errs.ErrorOrNil()
}

// logStats reports one instrumented file; per-file counts are only shown
// at info level with --verbose.
func (a *app) logStats(path string, result *instrument.Result, verbose bool) {
	ev := a.log.Debug()
	if verbose {
		ev = a.log.Info()
	}
	s := result.Stats
	ev.Str("file", path).
		Int("functions", s.Functions).
		Int("methods", s.Methods).
		Int("skipped", s.TotalSkipped()).
		Bool("main", s.MainHooked).
		Bool("untouched", s.AlreadyImports).
		Msg("instrumented")
}

// checkFlatten rejects inputs that would collide once copied into a single
// directory.
func checkFlatten(goFiles []string) error {
	seen := make(map[string]string, len(goFiles))
	for _, f := range goFiles {
		base := filepath.Base(f)
		if prev, ok := seen[base]; ok {
			return fmt.Errorf("%s and %s have the same file name; build one package at a time", prev, f)
		}
		seen[base] = f
	}
	return nil
}

// collectGoFiles expands sources into .go files.
//
// Directories contribute their non-test .go files (not recursive). Explicit
// file arguments must end in .go. The result is sorted for stable output.
func collectGoFiles(sources []string, workDir string) ([]string, error) {
	var goFiles []string

	for _, src := range sources {
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(workDir, src)
		}

		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", src, err)
		}

		if !info.IsDir() {
			if strings.HasSuffix(srcPath, ".go") {
				goFiles = append(goFiles, srcPath)
			}
			continue
		}

		entries, err := os.ReadDir(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", srcPath, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
				goFiles = append(goFiles, filepath.Join(srcPath, name))
			}
		}
	}

	sort.Strings(goFiles)
	return goFiles, nil
}
