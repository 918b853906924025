package main

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/fitsync/internal/config"
	"github.com/kimhsiao/fitsync/internal/logging"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:     "run",
		GroupID: "sync",
		Short:   "Run the sync scheduler and asset uploads until interrupted",
		Long: `Run the sync engine in the foreground.

A sync cycle starts immediately, then every sync.interval. Queued assets
upload in the background. With --watch, edits to the logging section of
the config file apply without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			a, err := opts.open(parent)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "fitsync %s syncing %s (data in %s)\n",
				Version, a.Config().Remote.BaseURL, a.Config().DataDir)

			g, ctx := errgroup.WithContext(parent)
			g.Go(func() error {
				return a.Run(ctx)
			})
			if watch && opts.configPath != "" {
				current := a.Config().Logging
				g.Go(func() error {
					return config.Watch(ctx, opts.configPath, func(next *config.Config) {
						if reflect.DeepEqual(current, next.Logging) {
							return
						}
						current = next.Logging
						if err := a.ReloadLogging(next.LoggingOptions()); err != nil {
							logging.Error("failed to apply logging config", err)
						}
					})
				})
			}
			if err := g.Wait(); err != nil && parent.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload logging settings when the config file changes")
	return cmd
}
