package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"bbtrace/internal/bbtrace/styles"
	"bbtrace/internal/iname"
	"bbtrace/internal/store"
	"bbtrace/internal/trace"
)

// progressEvery is how many records pass between progress log lines.
const progressEvery = 10000

func init() {
	cacheCmd.Flags().String("dest", "", "List that receives one sample per instruction form")
	cacheCmd.Flags().Bool("resume", false, "Keep the forms already stored in the destination list")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Collect one sample of every distinct instruction form",
	Long: `Cache decodes every address independent basic block, names each
instruction by its form (mnemonic, LOCK prefix and operand kinds) and appends
the first instruction seen for each new form to the destination list.
LOCK-prefixed forms share the name of their unlocked counterpart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := settings.InstructionList
		if cmd.Flags().Changed("dest") {
			dest, _ = cmd.Flags().GetString("dest")
		}
		resume, _ := cmd.Flags().GetBool("resume")

		ctx := cmd.Context()
		backend, err := openBackend(ctx, settings)
		if err != nil {
			return err
		}
		defer backend.Close()

		res, err := runCache(ctx, backend, cacheParams{
			Source: sourceList(cmd, settings.CacheList),
			Dest:   dest,
			Resume: resume,
			Logger: commandLogger(cmd),
		}, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if isTerminal() {
			fmt.Fprint(cmd.OutOrStdout(), styles.Render(res.Markdown(), terminalWidth()))
		}
		return nil
	},
}

type cacheParams struct {
	Source string
	Dest   string
	Resume bool
	Logger *charmlog.Logger
}

// cacheResult summarizes a cache run.
type cacheResult struct {
	Source    string
	Dest      string
	Records   int
	Preloaded int
	Stats     iname.Stats
	Count     int
}

// Markdown renders r as a short report for the terminal.
func (r cacheResult) Markdown() string {
	var b strings.Builder
	b.WriteString("## Instruction cache\n\n")
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Source | `%s` |\n", r.Source)
	fmt.Fprintf(&b, "| Destination | `%s` |\n", r.Dest)
	fmt.Fprintf(&b, "| Records | %d |\n", r.Records)
	fmt.Fprintf(&b, "| Instructions | %d |\n", r.Stats.Instructions)
	fmt.Fprintf(&b, "| Truncated records | %d |\n", r.Stats.Truncated)
	if r.Preloaded > 0 {
		fmt.Fprintf(&b, "| Preloaded forms | %d |\n", r.Preloaded)
	}
	fmt.Fprintf(&b, "| Appended | %d |\n", r.Stats.Appended)
	fmt.Fprintf(&b, "| Stored | **%d** |\n", r.Count)
	return b.String()
}

// runCache feeds every record of p.Source through an instruction cache that
// appends to p.Dest, then prints the destination length to out.
func runCache(ctx context.Context, backend store.Backend, p cacheParams, out io.Writer) (cacheResult, error) {
	res := cacheResult{Source: p.Source, Dest: p.Dest}
	lg := p.Logger
	if lg == nil {
		lg = charmlog.New(io.Discard)
	}

	src, err := store.Open(ctx, backend, p.Source)
	if err != nil {
		return res, err
	}
	dest, err := store.OpenForAppend(ctx, backend, p.Dest)
	if err != nil {
		return res, err
	}

	cache := iname.NewCache(dest, iname.WithLogger(lg))
	if p.Resume {
		if res.Preloaded, err = cache.Preload(ctx); err != nil {
			return res, err
		}
		lg.Info("resuming", "list", p.Dest, "forms", res.Preloaded)
	}

	total, err := src.Len(ctx)
	if err != nil {
		return res, err
	}

	records := store.NewReader(src, trace.Decode)
	for i, bb := range records.All(ctx, 0) {
		if _, err := cache.Observe(ctx, bb.Code, bb.Mode); err != nil {
			return res, fmt.Errorf("record %d: %w", i, err)
		}
		res.Records++
		if res.Records%progressEvery == 0 {
			lg.Info("progress", "records", res.Records, "total", total, "forms", cache.Known())
		}
	}
	if err := records.Err(); err != nil {
		return res, err
	}

	res.Stats = cache.Stats()
	if res.Count, err = cache.Count(ctx); err != nil {
		return res, err
	}
	lg.Debug("cache finished",
		"records", res.Records,
		"instructions", res.Stats.Instructions,
		"truncated", res.Stats.Truncated,
		"appended", res.Stats.Appended)

	if _, err := fmt.Fprintf(out, "%d instruction cached\n", res.Count); err != nil {
		return res, err
	}
	return res, nil
}
