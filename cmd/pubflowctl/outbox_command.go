package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOutboxCommand(ctx *commandContext) *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Operate the event outbox",
	}
	outboxCmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Deliver one batch of pending events to every configured listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.openPlatform(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			result, err := p.Relay().DrainOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d event(s), %d failed\n", result.Delivered, result.Failed)
			return nil
		},
	})
	return outboxCmd
}
