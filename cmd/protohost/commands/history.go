package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/protohost/internal/config"
	"git.home.luguber.info/inful/protohost/internal/store"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	ID    string `arg:"" help:"Prototype id"`
	Limit int    `short:"n" help:"Number of records to show" default:"10"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return RunHistory(context.Background(), os.Stdout, cfg, h.ID, h.Limit)
}

// RunHistory prints the newest build records of a prototype as a table.
func RunHistory(ctx context.Context, out io.Writer, cfg *config.Config, id string, limit int) error {
	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	p, err := st.GetPrototype(ctx, id)
	if err != nil {
		return fmt.Errorf("prototype %s: %w", id, err)
	}
	recs, err := st.ListBuildRecords(ctx, id, limit)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "%s (%s) status=%s\n", p.Name, p.FullName(), p.Status)
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No builds yet")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BUILD\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tCOMMIT\tERROR")
	for _, r := range recs {
		duration := "-"
		if r.DurationMs != nil {
			duration = (time.Duration(*r.DurationMs) * time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Trigger, humanize.Time(r.StartedAt), duration, shortSHA(r.CommitSHA), r.ErrorKind)
	}
	return tw.Flush()
}
