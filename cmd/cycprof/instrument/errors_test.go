package instrument

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"
)

func TestInstrumentationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *InstrumentationError
		expected string
	}{
		{
			name: "basic error without suggestion",
			err: &InstrumentationError{
				File:    "main.go",
				Line:    42,
				Column:  15,
				Message: "cannot hook function",
			},
			expected: "main.go:42:15: cannot hook function",
		},
		{
			name: "error with suggestion",
			err: &InstrumentationError{
				File:       "work.go",
				Line:       3,
				Column:     1,
				Message:    "every candidate alias for the profiler package is taken",
				Suggestion: "Rename the identifier",
			},
			expected: "work.go:3:1: every candidate alias for the profiler package is taken\n\nSuggestion: Rename the identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewInstrumentationError_Position(t *testing.T) {
	src := `package main

func main() {
	work()
}
`
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "main.go", src, 0)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	fn := file.Decls[0]
	got := NewInstrumentationError(fset, fn.Pos(), "boom").WithSuggestion("try again")

	if got.File != "main.go" || got.Line != 3 || got.Column != 1 {
		t.Errorf("position = %s:%d:%d, want main.go:3:1", got.File, got.Line, got.Column)
	}
	if !strings.HasSuffix(got.Error(), "Suggestion: try again") {
		t.Errorf("Error() = %q", got.Error())
	}
}
