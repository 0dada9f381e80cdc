package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kolkov/cycleprof/internal/prof/dump"
	"github.com/kolkov/cycleprof/internal/prof/node"
	"github.com/kolkov/cycleprof/internal/prof/pprofexport"
	"github.com/kolkov/cycleprof/internal/prof/symbolize"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Output formats of the decode command.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatPprof = "pprof"
)

// decodeConfig holds parsed decode command configuration.
type decodeConfig struct {
	format     string
	sum        bool
	output     string
	binary     string
	top        int
	sampleType string
	unit       string
}

func (a *app) decodeCmd() *cobra.Command {
	cfg := &decodeConfig{}

	cmd := &cobra.Command{
		Use:   "decode [flags] [log]",
		Short: "Decode PROFILE DUMP blocks from a program's output",
		Long: `decode scans a log (stdin if omitted or "-") for "PROFILE DUMP:" blocks and
prints the counters they carry. Each dump covers the window since the
previous one; --sum adds all windows together. The pprof format always sums.`,
		Example: `  ./app 2> app.log; cycprof decode app.log
  cycprof decode --sum --binary ./app --top 20 app.log
  cycprof decode -f pprof -b ./app -o cycles.pb.gz app.log && go tool pprof ./app cycles.pb.gz`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open log: %w", err)
				}
				defer f.Close()
				in = f
			}
			return a.decode(cfg, in)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.format, "format", "f", formatTable, "output format: table, json or pprof")
	f.BoolVar(&cfg.sum, "sum", false, "sum all dumps into a single profile")
	f.StringVarP(&cfg.output, "output", "o", "", "write to file instead of stdout")
	f.StringVarP(&cfg.binary, "binary", "b", "", "profiled executable used to name functions")
	f.IntVar(&cfg.top, "top", 0, "show only the N most expensive functions (0 for all)")
	f.StringVar(&cfg.sampleType, "sample-type", "cycles", "pprof sample type name")
	f.StringVar(&cfg.unit, "unit", "count", "pprof sample unit")
	return cmd
}

// decode parses r and renders the dumps according to cfg.
func (a *app) decode(cfg *decodeConfig, r io.Reader) error {
	switch cfg.format {
	case formatTable, formatJSON, formatPprof:
	default:
		return fmt.Errorf("unknown format %q (want table, json or pprof)", cfg.format)
	}

	windows, err := dump.Parse(r)
	if err != nil {
		if len(windows) == 0 {
			return err
		}
		a.log.Warn().Err(err).Int("dumps", len(windows)).Msg("log truncated, using the dumps read so far")
	}
	if len(windows) == 0 {
		return fmt.Errorf("no %q blocks found", dump.Header)
	}

	var symbols symbolize.Resolver
	if cfg.binary != "" {
		tab, err := symbolize.Open(cfg.binary)
		if err != nil {
			return err
		}
		if tab.PIE() {
			a.log.Warn().Str("binary", cfg.binary).Msg("position independent executable, names may not match")
		}
		symbols = tab
	}

	out := a.out
	if cfg.output != "" {
		f, err := os.Create(cfg.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if cfg.sum || cfg.format == formatPprof {
		windows = [][]dump.Record{dump.Merge(windows...)}
	}

	switch cfg.format {
	case formatPprof:
		return pprofexport.Write(out, windows[0], pprofexport.Options{
			SampleType: cfg.sampleType,
			Unit:       cfg.unit,
			Time:       time.Now(),
			Symbols:    symbols,
		})
	case formatJSON:
		return writeJSON(out, windows, cfg, symbols)
	default:
		return writeTables(out, windows, cfg, symbols)
	}
}

// jsonWindow is the JSON shape of one dump.
type jsonWindow struct {
	Window    int            `json:"window"`
	Total     uint64         `json:"total"`
	Functions []jsonFunction `json:"functions"`
}

type jsonFunction struct {
	Fn     string `json:"fn"`
	Name   string `json:"name,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Cycles uint64 `json:"cycles"`
}

func writeJSON(w io.Writer, windows [][]dump.Record, cfg *decodeConfig, symbols symbolize.Resolver) error {
	doc := make([]jsonWindow, 0, len(windows))
	for i, recs := range windows {
		recs, total := rank(recs, cfg.top)
		jw := jsonWindow{Window: i + 1, Total: total, Functions: make([]jsonFunction, 0, len(recs))}
		for _, r := range recs {
			jf := jsonFunction{Fn: fmt.Sprintf("%#x", r.Fn), Cycles: r.Cycles}
			if symbols != nil {
				if sym, ok := symbols.Resolve(r.Fn); ok {
					jf.Name, jf.File, jf.Line = sym.Name, sym.File, sym.Line
				}
			}
			jw.Functions = append(jw.Functions, jf)
		}
		doc = append(doc, jw)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeTables(w io.Writer, windows [][]dump.Record, cfg *decodeConfig, symbols symbolize.Resolver) error {
	for i, recs := range windows {
		recs, total := rank(recs, cfg.top)
		if len(windows) > 1 {
			if _, err := fmt.Fprintf(w, "Dump %d of %d\n", i+1, len(windows)); err != nil {
				return err
			}
		}

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"#", "Function", "Cycles", "Share"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for j, r := range recs {
			table.Append([]string{
				strconv.Itoa(j + 1),
				symbolize.Name(symbols, r.Fn),
				humanize.Comma(clampInt64(r.Cycles)),
				share(r.Cycles, total),
			})
		}
		table.SetFooter([]string{"", "Total", humanize.Comma(clampInt64(total)), ""})
		table.Render()
	}
	return nil
}

// rank sorts a copy of recs by cost, drops zero entries and keeps the top n
// (all if n <= 0). The total covers every record, not just the kept ones.
func rank(recs []dump.Record, n int) ([]dump.Record, uint64) {
	ranked := make([]dump.Record, 0, len(recs))
	var total uint64
	for _, r := range recs {
		if r.Cycles == 0 {
			continue
		}
		ranked = append(ranked, r)
		total = node.Accumulate(total, r.Cycles)
	}
	dump.SortByCycles(ranked)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, total
}

func share(v, total uint64) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(v)/float64(total)*100)
}

func clampInt64(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}
