package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Run one push-then-pull cycle and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.SyncNow(cmd.Context())
			out := cmd.OutOrStdout()
			if result != nil {
				fmt.Fprintf(out, "Pushed:    %d\n", result.Pushed)
				fmt.Fprintf(out, "Rejected:  %d\n", result.Rejected)
				fmt.Fprintf(out, "Pulled:    %d\n", result.Pulled)
				fmt.Fprintf(out, "Conflicts: %d\n", result.Conflicts)
				fmt.Fprintf(out, "Took:      %v\n", result.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
}
