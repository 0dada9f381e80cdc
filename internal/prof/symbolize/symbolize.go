// Package symbolize maps function entry addresses found in dumps back to Go
// function names using the line table of the profiled binary.
//
// Only ELF executables are supported. Addresses are matched as-is, so the
// binary must not be position independent.
package symbolize

import (
	"debug/elf"
	"debug/gosym"
	"fmt"

	"github.com/pkg/errors"
)

// Symbol describes the function at an address.
type Symbol struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// String returns "name (file:line)", or just the name without position.
func (s Symbol) String() string {
	if s.File == "" {
		return s.Name
	}
	return fmt.Sprintf("%s (%s:%d)", s.Name, s.File, s.Line)
}

// Resolver resolves a function entry address.
type Resolver interface {
	Resolve(addr uint64) (Symbol, bool)
}

// Table is a Resolver backed by a binary's .gopclntab.
type Table struct {
	tab *gosym.Table
	pie bool
}

// Open loads the Go line table of the ELF executable at path.
func Open(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "symbolize: open %s", path)
	}
	defer f.Close()

	pcln := f.Section(".gopclntab")
	if pcln == nil {
		return nil, errors.Errorf("symbolize: %s has no .gopclntab section", path)
	}
	pclnData, err := pcln.Data()
	if err != nil {
		return nil, errors.Wrap(err, "symbolize: read .gopclntab")
	}

	var textStart uint64
	if text := f.Section(".text"); text != nil {
		textStart = text.Addr
	}

	var symData []byte
	if sym := f.Section(".gosymtab"); sym != nil {
		if symData, err = sym.Data(); err != nil {
			return nil, errors.Wrap(err, "symbolize: read .gosymtab")
		}
	}

	tab, err := gosym.NewTable(symData, gosym.NewLineTable(pclnData, textStart))
	if err != nil {
		return nil, errors.Wrap(err, "symbolize: parse line table")
	}
	return &Table{tab: tab, pie: f.Type == elf.ET_DYN}, nil
}

// PIE reports whether the binary is position independent, in which case
// runtime addresses do not match the table.
func (t *Table) PIE() bool {
	return t.pie
}

// Resolve returns the function whose code contains addr.
func (t *Table) Resolve(addr uint64) (Symbol, bool) {
	fn := t.tab.PCToFunc(addr)
	if fn == nil {
		return Symbol{}, false
	}
	file, line, _ := t.tab.PCToLine(fn.Entry)
	return Symbol{Name: fn.Name, File: file, Line: line}, true
}

// Func adapts a function to the Resolver interface.
type Func func(addr uint64) (Symbol, bool)

// Resolve calls f.
func (f Func) Resolve(addr uint64) (Symbol, bool) {
	return f(addr)
}

// Name resolves addr with r, falling back to the hexadecimal address. A nil
// r always yields the address.
func Name(r Resolver, addr uint64) string {
	if r != nil {
		if sym, ok := r.Resolve(addr); ok {
			return sym.Name
		}
	}
	return fmt.Sprintf("%#x", addr)
}
