// Package pprofexport converts dump records into pprof profiles so they can
// be inspected with `go tool pprof`.
//
// Each function becomes a single-frame sample at its entry address. Without
// a resolver no symbol information is attached and pprof resolves the
// addresses against the binary given on its command line.
package pprofexport

import (
	"io"
	"math"
	"time"

	"github.com/google/pprof/profile"
	"github.com/pkg/errors"

	"github.com/kolkov/cycleprof/internal/prof/dump"
	"github.com/kolkov/cycleprof/internal/prof/symbolize"
)

// Options describes the sample values.
type Options struct {
	// SampleType names the value, "cycles" if empty.
	SampleType string

	// Unit is the unit of the value, "count" if empty.
	Unit string

	// Time is the capture time, zero for unknown.
	Time time.Time

	// Symbols names the functions when set.
	Symbols symbolize.Resolver
}

// Build returns a profile with one sample per record with non-zero cycles.
// Values beyond the int64 range are clamped.
func Build(recs []dump.Record, opts Options) *profile.Profile {
	if opts.SampleType == "" {
		opts.SampleType = "cycles"
	}
	if opts.Unit == "" {
		opts.Unit = "count"
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{
			Type: opts.SampleType,
			Unit: opts.Unit,
		}},
	}
	if !opts.Time.IsZero() {
		p.TimeNanos = opts.Time.UnixNano()
	}

	for _, r := range recs {
		if r.Cycles == 0 {
			continue
		}
		loc := &profile.Location{
			ID:      uint64(len(p.Location) + 1),
			Address: r.Fn,
		}
		if opts.Symbols != nil {
			if sym, ok := opts.Symbols.Resolve(r.Fn); ok {
				fn := &profile.Function{
					ID:         uint64(len(p.Function) + 1),
					Name:       sym.Name,
					SystemName: sym.Name,
					Filename:   sym.File,
					StartLine:  int64(sym.Line),
				}
				p.Function = append(p.Function, fn)
				loc.Line = []profile.Line{{Function: fn, Line: int64(sym.Line)}}
			}
		}
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{clampInt64(r.Cycles)},
		})
	}
	return p
}

// Write builds the profile for recs and writes it gzip-compressed to w.
func Write(w io.Writer, recs []dump.Record, opts Options) error {
	p := Build(recs, opts)
	if err := p.CheckValid(); err != nil {
		return errors.Wrap(err, "pprof: invalid profile")
	}
	return errors.Wrap(p.Write(w), "pprof: write")
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
