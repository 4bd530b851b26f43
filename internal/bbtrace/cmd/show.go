package cmd

import (
	"context"
	"fmt"
	"io"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"bbtrace/internal/disasm"
	"bbtrace/internal/query"
	"bbtrace/internal/store"
	"bbtrace/internal/trace"
	"bbtrace/internal/ui/listing"
)

func init() {
	showCmd.Flags().StringP("pattern", "p", "", "Only show blocks whose disassembly contains this text")
	showCmd.Flags().StringP("exec_mode", "m", "", "Only show blocks executed in this mode (compat|64-bit)")
	showCmd.Flags().StringP("ring", "r", "", "Only show blocks executed in this ring (user|kernel)")
	showCmd.Flags().IntP("goto", "g", 0, "Index of the first record to read")
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the disassembly of recorded basic blocks",
	Long: `Show reads the basic block list in store order, keeps the blocks that
match every filter and prints each one with its disassembly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseShowOptions(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		backend, err := openBackend(ctx, settings)
		if err != nil {
			return err
		}
		defer backend.Close()

		return runShow(ctx, backend, showParams{
			List:      sourceList(cmd, settings.ShowList),
			CacheSize: settings.LayoutCacheSize,
			Options:   opts,
			Color:     isTerminal(),
			Logger:    commandLogger(cmd),
		}, cmd.OutOrStdout())
	},
}

// parseShowOptions turns the show flags into query options.
func parseShowOptions(cmd *cobra.Command) (query.Options, error) {
	var opts query.Options

	opts.Pattern, _ = cmd.Flags().GetString("pattern")

	start, _ := cmd.Flags().GetInt("goto")
	if start < 0 {
		return opts, fmt.Errorf("--goto must not be negative, got %d", start)
	}
	opts.Start = start

	if s, _ := cmd.Flags().GetString("exec_mode"); s != "" {
		m, err := trace.ParseExecutionMode(s)
		if err != nil {
			return opts, fmt.Errorf("--exec_mode: %w", err)
		}
		opts.Mode = &m
	}
	if s, _ := cmd.Flags().GetString("ring"); s != "" {
		p, err := trace.ParseExecutionPrivilege(s)
		if err != nil {
			return opts, fmt.Errorf("--ring: %w", err)
		}
		opts.Privilege = &p
	}
	return opts, nil
}

type showParams struct {
	List      string
	CacheSize int
	Options   query.Options
	Color     bool
	Logger    *charmlog.Logger
}

// runShow prints every record of p.List that matches p.Options to out.
func runShow(ctx context.Context, backend store.Backend, p showParams, out io.Writer) error {
	lg := p.Logger
	if lg == nil {
		lg = charmlog.New(io.Discard)
	}

	list, err := store.Open(ctx, backend, p.List)
	if err != nil {
		return err
	}

	engine, err := disasm.NewEngine(disasm.WithCacheSize(p.CacheSize), disasm.WithLogger(lg))
	if err != nil {
		return err
	}

	printer := listing.NewPrinter(out, p.Color)
	q := query.New(engine, p.Options)
	matched := 0
	for m := range q.Matches(ctx, store.NewReader(list, trace.Decode)) {
		if err := printer.Print(m); err != nil {
			return fmt.Errorf("write listing: %w", err)
		}
		matched++
	}

	stats := engine.Stats()
	lg.Debug("show finished",
		"list", p.List,
		"scanned", q.Scanned(),
		"matched", matched,
		"hits", stats.Hits,
		"misses", stats.Misses,
		"collisions", stats.Collisions,
		"evictions", stats.Evictions)

	return q.Err()
}
