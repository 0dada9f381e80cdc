// Package instrument - Import injection and alias selection.
package instrument

import (
	"go/ast"
	"go/token"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"
)

// aliasCandidates are tried in order when the default package name is
// already used by something else in the file.
var aliasCandidates = []string{ProfPackageAlias, "cycprof", "cycleprof"}

// importsProfiler reports whether file already imports the profiler
// package under any name.
func importsProfiler(file *ast.File) bool {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if path == ProfImportPath {
			return true
		}
	}
	return false
}

// chooseAlias picks the first candidate name that no identifier in file
// already uses.
//
// Any identifier with the candidate name rules it out, including locals and
// field selectors.
//
// Returns:
//   - string: alias to use for the profiler import
//   - error: *InstrumentationError if every candidate is taken
func chooseAlias(fset *token.FileSet, file *ast.File) (string, error) {
	used := make(map[string]bool)
	ast.Inspect(file, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok {
			used[id.Name] = true
		}
		return true
	})
	// Unnamed imports bind their last path element without an identifier.
	for _, imp := range file.Imports {
		if imp.Name != nil {
			continue
		}
		if path, err := strconv.Unquote(imp.Path.Value); err == nil {
			used[lastElem(path)] = true
		}
	}

	for _, alias := range aliasCandidates {
		if !used[alias] {
			return alias, nil
		}
	}
	return "", NewInstrumentationError(fset, file.Package,
		"every candidate alias for the profiler package is taken").
		WithSuggestion(`Rename the identifier "prof" or add //cycprof:skip to the functions in this file`)
}

// injectImport adds the profiler import to file.
//
// The import is named explicitly only when the alias differs from the
// package name, matching what gofmt users would write by hand. astutil
// places the import in the existing import group (or creates one) and keeps
// file.Imports consistent.
func injectImport(fset *token.FileSet, file *ast.File, alias string) {
	name := ""
	if alias != ProfPackageAlias {
		name = alias
	}
	astutil.AddNamedImport(fset, file, name, ProfImportPath)
}

func lastElem(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
