package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"pubflow/api/internal/store"
)

func newInstanceCommand(ctx *commandContext) *cobra.Command {
	instanceCmd := &cobra.Command{
		Use:   "instance",
		Short: "Inspect workflow instances",
	}
	instanceCmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show an instance and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := ctx.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			inst, err := store.NewSQLStore(db, dialect).GetInstance(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load instance %s: %w", args[0], err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderInstance(inst))
			return nil
		},
	})
	return instanceCmd
}

func renderInstance(inst store.WorkflowInstance) string {
	summary := renderTable([]string{"Field", "Value"}, [][]string{
		{"Instance", inst.ID},
		{"Document", inst.DocumentID},
		{"Template", inst.TemplateID},
		{"Stage", inst.CurrentStageID},
		{"Status", string(inst.Status)},
		{"Version", strconv.Itoa(inst.Version)},
		{"Updated", inst.UpdatedAt.Format(time.RFC3339)},
	}, nil)

	rows := make([][]string, 0, len(inst.History))
	for _, entry := range inst.History {
		rows = append(rows, []string{
			strconv.Itoa(entry.Seq),
			entry.Timestamp.Format(time.RFC3339),
			entry.StageID,
			entry.Action,
			entry.ActingRole,
			entry.Outcome,
			entry.ToStageID,
		})
	}
	history := renderTable([]string{"#", "At", "Stage", "Action", "Role", "Outcome", "To"}, rows, []columnAlignment{alignRight})
	return summary + "\n" + history + "\n"
}
