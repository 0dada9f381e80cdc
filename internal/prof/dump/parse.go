package dump

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/kolkov/cycleprof/internal/prof/cbor64"
	"github.com/kolkov/cycleprof/internal/prof/node"
)

// maxLine bounds a single payload line. A registry of a million functions
// encodes to well under this.
const maxLine = 64 << 20

// Record is one entry of a dump.
type Record struct {
	_      struct{} `cbor:",toarray"`
	Fn     uint64   `json:"fn"`
	Cycles uint64   `json:"cycles"`
}

// Parse reads every framed dump from r, in order of appearance.
//
// Lines other than a Header and the payload line following it are skipped,
// so r may be a full program log. The header may carry a prefix such as a
// log timestamp.
func Parse(r io.Reader) ([][]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var windows [][]Record
	line := 0
	for sc.Scan() {
		line++
		if !strings.HasSuffix(strings.TrimSpace(sc.Text()), Header) {
			continue
		}
		if !sc.Scan() {
			return windows, errors.Errorf("dump: line %d: header without payload", line)
		}
		line++
		var recs []Record
		if err := cbor64.Unmarshal(sc.Text(), &recs); err != nil {
			return windows, errors.Wrapf(err, "dump: line %d", line)
		}
		windows = append(windows, recs)
	}
	if err := sc.Err(); err != nil {
		return windows, errors.Wrap(err, "dump: read")
	}
	return windows, nil
}

// Merge sums the cycles of each function across windows with saturation.
// The result is sorted by function address.
func Merge(windows ...[]Record) []Record {
	totals := make(map[uint64]uint64)
	for _, w := range windows {
		for _, r := range w {
			totals[r.Fn] = node.Accumulate(totals[r.Fn], r.Cycles)
		}
	}

	merged := make([]Record, 0, len(totals))
	for fn, cycles := range totals {
		merged = append(merged, Record{Fn: fn, Cycles: cycles})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Fn < merged[j].Fn })
	return merged
}

// SortByCycles orders records by descending cycles, then by address.
func SortByCycles(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Cycles != recs[j].Cycles {
			return recs[i].Cycles > recs[j].Cycles
		}
		return recs[i].Fn < recs[j].Fn
	})
}
