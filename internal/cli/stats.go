package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/badgeminter/internal/control"
	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show attempt counts, unprocessed missed events and the recovery checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, _, err := control.OpenStore(ctx, cfg.Database, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if store.Close != nil {
				_ = store.Close()
			}
		}()

		return printStats(ctx, cmd.OutOrStdout(), store, cfg.Recovery.CheckpointName)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type storeStats struct {
	attempts    map[domain.AttemptStatus]int
	unprocessed int
	checkpoint  uint64
	hasCursor   bool
}

func collectStats(ctx context.Context, store *storage.Store, checkpoint string) (*storeStats, error) {
	var s storeStats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := store.Attempts.CountByStatus(gctx)
		s.attempts = counts
		return err
	})
	g.Go(func() error {
		processed := false
		events, err := store.MissedEvents.Query(gctx, domain.MissedEventFilter{Processed: &processed})
		s.unprocessed = len(events)
		return err
	})
	g.Go(func() error {
		block, ok, err := store.Checkpoints.Get(gctx, checkpoint)
		s.checkpoint, s.hasCursor = block, ok
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &s, nil
}

func printStats(ctx context.Context, out io.Writer, store *storage.Store, checkpoint string) error {
	s, err := collectStats(ctx, store, checkpoint)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}

	statuses := make([]string, 0, len(s.attempts))
	for status := range s.attempts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tATTEMPTS")
	for _, status := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, s.attempts[domain.AttemptStatus(status)])
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nunprocessed missed events: %d\n", s.unprocessed)
	if s.hasCursor {
		_, _ = fmt.Fprintf(out, "checkpoint %s: %d\n", checkpoint, s.checkpoint)
	} else {
		_, _ = fmt.Fprintf(out, "checkpoint %s: not set\n", checkpoint)
	}
	return nil
}
