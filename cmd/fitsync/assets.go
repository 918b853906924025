package main

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/sync/queue"
)

func newAssetsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assets",
		GroupID: "assets",
		Short:   "Inspect and manage the asset upload queue",
	}
	cmd.AddCommand(
		newAssetsListCmd(opts),
		newAssetsAddCmd(opts),
		newAssetsRetryCmd(opts),
		newAssetsRemoveCmd(opts),
	)
	return cmd
}

func newAssetsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued assets, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printAssets(cmd.OutOrStdout(), a.Queue.List())
		},
	}
}

func printAssets(out io.Writer, assets []models.QueuedAsset) error {
	if len(assets) == 0 {
		fmt.Fprintln(out, "No queued assets")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tRETRIES\tOWNER\tERROR")
	for _, a := range assets {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s/%s.%s\t%s\n",
			a.ID, a.Status, a.RetryCount, a.OwnerCollection, a.OwnerID, a.OwnerField, a.LastError)
	}
	return tw.Flush()
}

func newAssetsAddCmd(opts *rootOptions) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "add <file> <collection> <record-id> <field>",
		Short: "Queue a file for upload into a record field",
		Example: `  fitsync assets add ./ana.jpg clients 6f1c... avatar_url
  fitsync assets add ./squat.mp4 exercises 91ab... video_url`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[0]))
			}
			asset, err := a.AddAsset(cmd.Context(), queue.Descriptor{
				LocalPath:       args[0],
				ContentType:     contentType,
				OwnerCollection: args[1],
				OwnerID:         args[2],
				OwnerField:      args[3],
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", asset.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type (default from the file extension)")
	return cmd
}

func newAssetsRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <asset-id>",
		Short: "Make a failed asset eligible for upload again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.RetryAsset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retrying %s\n", args[0])
			return nil
		},
	}
}

func newAssetsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <asset-id>",
		Aliases: []string{"rm"},
		Short:   "Drop an asset from the queue",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.RemoveAsset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}
