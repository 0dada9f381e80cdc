// Package runtime links instrumented programs against the profiler runtime.
//
// Instrumented sources are compiled in a throwaway module. This package
// writes that module's go.mod so that:
//   - the profiler facade resolves to a local checkout when one is found
//   - the user's own module resolves to its original directory, so imports
//     of sibling packages keep working
//   - the user's requirements and replace directives carry over unchanged
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/semver"
)

const (
	// ModulePath is the module that provides the profiler runtime.
	ModulePath = "github.com/kolkov/cycleprof"

	// InstrumentedModule is the module path of the throwaway build module.
	InstrumentedModule = "instrumented"

	// minGoVersion is the lowest go directive the runtime module accepts.
	minGoVersion = "1.24"

	// localVersion is the placeholder version paired with a directory
	// replacement.
	localVersion = "v0.0.0"
)

// RuntimePackagePath returns the import path instrumented code uses.
func RuntimePackagePath() string {
	return ModulePath + "/prof"
}

// runtimeMarker is a directory that exists only in a checkout of the
// profiler module. A bare go.mod is not enough: it would also match the
// user's project.
var runtimeMarker = filepath.Join("internal", "prof", "api")

// FindProjectRoot locates a local checkout of the profiler module.
//
// It walks up from the working directory, then tries the directories around
// the running executable (project root, bin/, and one level deeper).
//
// Returns:
//   - string: absolute checkout directory
//   - error: if no checkout could be found
func FindProjectRoot() (string, error) {
	if cwd, err := os.Getwd(); err == nil {
		if root, ok := walkUp(cwd, isProjectRoot); ok {
			return root, nil
		}
	}

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		for _, candidate := range []string{
			exeDir,
			filepath.Dir(exeDir),
			filepath.Dir(filepath.Dir(exeDir)),
		} {
			if isProjectRoot(candidate) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("could not find %s project root", ModulePath)
}

// isProjectRoot reports whether dir holds the runtime marker and a go.mod
// declaring ModulePath.
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, runtimeMarker)); err != nil {
		return false
	}
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return false
	}
	return modfile.ModulePath(data) == ModulePath
}

// FindGoMod returns the go.mod governing startDir, or "" if there is none.
func FindGoMod(startDir string) string {
	dir, ok := walkUp(startDir, func(d string) bool {
		_, err := os.Stat(filepath.Join(d, "go.mod"))
		return err == nil
	})
	if !ok {
		return ""
	}
	return filepath.Join(dir, "go.mod")
}

func walkUp(start string, match func(string) bool) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		if match(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// WriteModFile writes go.mod for the throwaway module in tempDir.
//
// Parameters:
//   - tempDir: workspace module directory
//   - sourceDir: directory of the sources being instrumented, used to find
//     the user's go.mod ("" to skip)
//   - projectRoot: local profiler checkout ("" to resolve the published
//     module through the proxy)
//
// Returns:
//   - string: path of the written go.mod
//   - error: if the user's go.mod cannot be parsed or the file cannot be
//     written
func WriteModFile(tempDir, sourceDir, projectRoot string) (string, error) {
	content, err := BuildModFile(sourceDir, projectRoot)
	if err != nil {
		return "", err
	}

	path := filepath.Join(tempDir, "go.mod")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write go.mod: %w", err)
	}
	return path, nil
}

// BuildModFile renders the throwaway module's go.mod.
func BuildModFile(sourceDir, projectRoot string) ([]byte, error) {
	mf := new(modfile.File)
	if err := mf.AddModuleStmt(InstrumentedModule); err != nil {
		return nil, fmt.Errorf("failed to set module path: %w", err)
	}

	goVersion := minGoVersion
	var original *modfile.File
	var originalDir string
	if sourceDir != "" {
		if path := FindGoMod(sourceDir); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			original, err = modfile.Parse(path, data, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			originalDir = filepath.Dir(path)
			if original.Go != nil && newerGo(original.Go.Version, goVersion) {
				goVersion = original.Go.Version
			}
		}
	}
	if err := mf.AddGoStmt(goVersion); err != nil {
		return nil, fmt.Errorf("failed to set go version: %w", err)
	}

	if original != nil {
		for _, req := range original.Require {
			if req.Mod.Path == ModulePath && projectRoot != "" {
				continue
			}
			if err := mf.AddRequire(req.Mod.Path, req.Mod.Version); err != nil {
				return nil, fmt.Errorf("failed to copy requirement %s: %w", req.Mod.Path, err)
			}
		}
		for _, rep := range original.Replace {
			if rep.Old.Path == ModulePath && projectRoot != "" {
				continue
			}
			newPath := rep.New.Path
			if rep.New.Version == "" && isLocalPath(newPath) && !filepath.IsAbs(newPath) {
				if abs, err := filepath.Abs(filepath.Join(originalDir, newPath)); err == nil {
					newPath = abs
				}
			}
			if err := mf.AddReplace(rep.Old.Path, rep.Old.Version, newPath, rep.New.Version); err != nil {
				return nil, fmt.Errorf("failed to copy replace %s: %w", rep.Old.Path, err)
			}
		}

		// Sibling packages of the instrumented files come from the
		// original, uninstrumented tree.
		if userPath := modulePath(original); userPath != "" && userPath != ModulePath {
			if err := addLocal(mf, userPath, originalDir); err != nil {
				return nil, err
			}
		}
	}

	if projectRoot != "" {
		if err := addLocal(mf, ModulePath, projectRoot); err != nil {
			return nil, err
		}
	}

	mf.Cleanup()
	out, err := mf.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to format go.mod: %w", err)
	}
	return out, nil
}

// addLocal requires path at the placeholder version and points it at dir.
func addLocal(mf *modfile.File, path, dir string) error {
	if err := mf.AddRequire(path, localVersion); err != nil {
		return fmt.Errorf("failed to require %s: %w", path, err)
	}
	if err := mf.AddReplace(path, "", dir, ""); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func modulePath(f *modfile.File) string {
	if f.Module == nil {
		return ""
	}
	return f.Module.Mod.Path
}

// newerGo reports whether go version a is newer than b.
func newerGo(a, b string) bool {
	return semver.Compare("v"+a, "v"+b) > 0
}

// isLocalPath checks if a replacement target is a filesystem path rather
// than a module path.
//
// Local paths start with ./, ../, /, or a drive letter on Windows.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	// Windows drive letter check (e.g., C:\)
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	return false
}
