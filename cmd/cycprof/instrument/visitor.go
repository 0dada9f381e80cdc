// Package instrument - Function hook insertion.
//
// This file decides which function declarations receive the entry/exit hook
// and builds the statements that are spliced into their bodies.
package instrument

import (
	"go/ast"
	"go/token"
	"strings"
)

// SkipDirective excludes a function from instrumentation when it appears as
// a line of the function's doc comment.
const SkipDirective = "//cycprof:skip"

// Stats tracks instrumentation statistics for one file.
//
// Use Case:
// Enable with -v to see per-file counts:
//
//	cycprof build -v main.go
//	Instrumented main.go: 6 functions, 3 methods (2 skipped)
//
// Thread Safety: NOT thread-safe (single-threaded instrumentation).
type Stats struct {
	Functions      int  // Plain functions that received the hook
	Methods        int  // Methods that received the hook
	InitSkipped    int  // init functions left untouched
	DirectiveSkips int  // Functions carrying //cycprof:skip or //go:nosplit
	NoBody         int  // Declarations without a body (assembly, linkname)
	MainHooked     bool // main received Init/Fini
	AlreadyImports bool // The file imported the profiler and was left as is
}

// Total returns how many declarations received the hook.
func (s *Stats) Total() int {
	return s.Functions + s.Methods
}

// TotalSkipped returns how many declarations were deliberately left alone.
func (s *Stats) TotalSkipped() int {
	return s.InitSkipped + s.DirectiveSkips + s.NoBody
}

// hookVisitor walks the top-level declarations of a file and splices the
// hook statements into every eligible function body.
//
// Only top-level FuncDecls are considered. Function literals run under the
// declaration that created them and are charged to it.
type hookVisitor struct {
	file  *ast.File
	alias string
	stats Stats
}

func newHookVisitor(file *ast.File, alias string) *hookVisitor {
	return &hookVisitor{file: file, alias: alias}
}

// apply rewrites every eligible declaration in place.
func (v *hookVisitor) apply() {
	isMainPkg := v.file.Name != nil && v.file.Name.Name == "main"

	for _, decl := range v.file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}

		if fn.Body == nil {
			v.stats.NoBody++
			continue
		}

		isMain := isMainPkg && fn.Recv == nil && fn.Name.Name == "main"
		switch {
		case fn.Recv == nil && fn.Name.Name == "init":
			v.stats.InitSkipped++
			continue
		case hasDirective(fn.Doc, SkipDirective) || hasDirective(fn.Doc, "//go:nosplit"):
			v.stats.DirectiveSkips++
			if isMain {
				// main still owns the profiler lifecycle.
				v.prepend(fn.Body, v.lifecycleStmts(fn.Body.Lbrace)...)
				v.stats.MainHooked = true
			}
			continue
		}

		stmts := []ast.Stmt{}
		if isMain {
			stmts = append(stmts, v.lifecycleStmts(fn.Body.Lbrace)...)
			v.stats.MainHooked = true
		}
		stmts = append(stmts, v.hookStmt(fn.Body.Lbrace))
		v.prepend(fn.Body, stmts...)

		if fn.Recv != nil {
			v.stats.Methods++
		} else {
			v.stats.Functions++
		}
	}
}

// prepend inserts stmts ahead of the existing body.
func (v *hookVisitor) prepend(body *ast.BlockStmt, stmts ...ast.Stmt) {
	list := make([]ast.Stmt, 0, len(stmts)+len(body.List))
	list = append(list, stmts...)
	body.List = append(list, body.List...)
}

// hookStmt builds:
//
//	defer prof.Exit(prof.Enter())
//
// Enter runs immediately and captures the caller's function; Exit is
// deferred so it also runs on panics and early returns.
func (v *hookVisitor) hookStmt(pos token.Pos) ast.Stmt {
	return &ast.DeferStmt{
		Defer: pos,
		Call: &ast.CallExpr{
			Fun:    v.sel(pos, "Exit"),
			Lparen: pos,
			Args:   []ast.Expr{v.call(pos, "Enter")},
			Rparen: pos,
		},
	}
}

// lifecycleStmts builds:
//
//	prof.Init()
//	defer prof.Fini()
//
// Fini is deferred before the hook, so it runs after main's own Exit and the
// final dump includes main.
func (v *hookVisitor) lifecycleStmts(pos token.Pos) []ast.Stmt {
	return []ast.Stmt{
		&ast.ExprStmt{X: v.call(pos, "Init")},
		&ast.DeferStmt{Defer: pos, Call: v.call(pos, "Fini")},
	}
}

// call builds a no-argument call prof.<name>(). The parentheses carry
// positions so go/printer keeps comments that follow the opening brace out
// of the argument list.
func (v *hookVisitor) call(pos token.Pos, name string) *ast.CallExpr {
	return &ast.CallExpr{Fun: v.sel(pos, name), Lparen: pos, Rparen: pos}
}

func (v *hookVisitor) sel(pos token.Pos, name string) *ast.SelectorExpr {
	return &ast.SelectorExpr{
		X:   &ast.Ident{NamePos: pos, Name: v.alias},
		Sel: &ast.Ident{NamePos: pos, Name: name},
	}
}

// hasDirective reports whether doc holds a comment line that is exactly
// directive, optionally followed by a space and free text.
func hasDirective(doc *ast.CommentGroup, directive string) bool {
	if doc == nil {
		return false
	}
	for _, c := range doc.List {
		if c.Text == directive || strings.HasPrefix(c.Text, directive+" ") {
			return true
		}
	}
	return false
}
