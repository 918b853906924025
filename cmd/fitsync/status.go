package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/internal/app"
	"github.com/kimhsiao/fitsync/internal/db"
	"github.com/kimhsiao/fitsync/internal/models"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var conflicts int
	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show pending changes, pull cursors and queued assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printStatus(cmd.Context(), cmd.OutOrStdout(), a, conflicts)
		},
	}
	cmd.Flags().IntVar(&conflicts, "conflicts", 5, "number of recent conflicts to show")
	return cmd
}

func printStatus(ctx context.Context, out io.Writer, a *app.App, conflictLimit int) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tCREATED\tUPDATED\tDELETED\tERRORS\tCURSOR")
	for _, c := range models.Collections() {
		records, err := a.Store.Query(ctx, db.Query{
			Collection:        c.Name,
			Statuses:          models.PendingStatuses(),
			IncludeTombstones: true,
		})
		if err != nil {
			return err
		}
		counts := map[models.SyncStatus]int{}
		errored := 0
		for _, r := range records {
			counts[r.SyncStatus]++
			if r.SyncError != "" {
				errored++
			}
		}
		cursor, err := a.Store.Cursor(ctx, c.Name)
		if err != nil {
			return err
		}
		if cursor == "" {
			cursor = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", c.Name,
			counts[models.StatusCreated], counts[models.StatusUpdated], counts[models.StatusDeleted], errored, cursor)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	assets := a.Queue.List()
	byStatus := map[models.AssetStatus]int{}
	for _, asset := range assets {
		byStatus[asset.Status]++
	}
	fmt.Fprintf(out, "\nAssets: %d pending, %d uploading, %d failed, %d completed\n",
		byStatus[models.AssetPending], byStatus[models.AssetUploading], byStatus[models.AssetFailed], byStatus[models.AssetCompleted])

	if conflictLimit <= 0 {
		return nil
	}
	logs, err := a.Store.Conflicts(ctx, conflictLimit)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nRecent conflicts:")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, l := range logs {
		fmt.Fprintf(tw, "  %s\t%s/%s\t%s\n",
			l.DetectedAtTime().Format(time.RFC3339), l.Collection, l.ItemID, l.Resolution)
	}
	return tw.Flush()
}
