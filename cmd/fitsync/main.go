// Package main is the fitsync command line: it runs the sync engine as a
// long-lived process and exposes one-shot sync, status and asset commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/internal/app"
	"github.com/kimhsiao/fitsync/internal/config"
	"github.com/kimhsiao/fitsync/internal/sync/status"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "fitsync",
		Short:         "Offline-first sync engine for trainer and client data",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.yaml or ~/.fitsync/config.yaml)")

	cmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "assets", Title: "Asset Commands:"},
	)
	cmd.AddCommand(
		newRunCmd(opts),
		newSyncCmd(opts),
		newStatusCmd(opts),
		newAssetsCmd(opts),
	)
	return cmd
}

// open builds the app for a single command. Each invocation gets its own
// status store since the process-wide one can only be claimed once.
func (o *rootOptions) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Options{Status: status.NewStore()})
}
