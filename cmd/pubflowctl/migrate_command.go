package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pubflow/api/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down roll back) database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := ctx.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				if err := store.RollbackMigrations(cmd.Context(), db, dialect); err != nil {
					return fmt.Errorf("rollback migrations: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s migrations\n", dialect)
				return nil
			}
			if err := store.ApplyMigrations(cmd.Context(), db, dialect); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s migrations\n", dialect)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back instead of applying")
	return cmd
}
