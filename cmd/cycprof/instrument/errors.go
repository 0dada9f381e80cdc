// Package instrument - Custom error types for instrumentation.
//
// Errors carry the file position (file:line:column) of the declaration that
// could not be rewritten and, where one exists, a hint for the user.
//
// Example output:
//
//	main.go:12:2: every candidate alias for the profiler package is taken
//
//	Suggestion: Rename the identifier "prof" or add //cycprof:skip to the functions in this file
package instrument

import (
	"fmt"
	"go/token"
)

// InstrumentationError represents an error during instrumentation with context.
//
// Fields:
//   - File: Source file path where the error occurred
//   - Line: Line number (1-indexed)
//   - Column: Column number (1-indexed)
//   - Message: Human-readable error description
//   - Suggestion: Optional hint for fixing the error
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type InstrumentationError struct {
	File       string // Source file path
	Line       int    // Line number (1-indexed)
	Column     int    // Column number (1-indexed)
	Message    string // Error message
	Suggestion string // Optional suggestion for fixing (empty if none)
}

// Error implements the error interface.
//
// Format: file:line:column: message, followed by a blank line and
// "Suggestion: ..." when a suggestion is present.
func (e *InstrumentationError) Error() string {
	result := fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

// NewInstrumentationError creates an error positioned at pos.
func NewInstrumentationError(fset *token.FileSet, pos token.Pos, msg string) *InstrumentationError {
	position := fset.Position(pos)
	return &InstrumentationError{
		File:    position.Filename,
		Line:    position.Line,
		Column:  position.Column,
		Message: msg,
	}
}

// WithSuggestion attaches a hint and returns the same error for chaining.
func (e *InstrumentationError) WithSuggestion(suggestion string) *InstrumentationError {
	e.Suggestion = suggestion
	return e
}
