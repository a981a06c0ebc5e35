package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users seen in any log source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, logger, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.close() }()

			if err := a.connectStoreOnce(ctx); err != nil {
				return err
			}
			users, err := a.timeline.Users(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tLAST ACTIVE")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.LastActive.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
