package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pubflow/api/internal/rbac"
	"pubflow/api/internal/workflow"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and validate workflow templates",
	}

	templatesCmd.AddCommand(newTemplatesValidateCommand())
	templatesCmd.AddCommand(newTemplatesShowCommand(ctx))

	return templatesCmd
}

func newTemplatesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "validate [dir]",
		Short:       "Validate template files (builtin templates when no dir is given)",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				templates []*workflow.Template
				err       error
			)
			if len(args) == 1 {
				templates, err = workflow.LoadDir(args[0])
			} else {
				templates, err = workflow.Builtin()
			}
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(templates))
			for _, tpl := range templates {
				rows = append(rows, []string{tpl.ID, tpl.Name, strconv.Itoa(len(tpl.Stages)), tpl.GetInitialStage().ID})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Stages", "Initial"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
			fmt.Fprintf(out, "%d template(s) valid\n", len(templates))
			return nil
		},
	}
}

func newTemplatesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the stages of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := workflow.LoadRegistry(cfg.TemplatesDir)
			if err != nil {
				return err
			}
			tpl, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", tpl.Name, tpl.ID)
			fmt.Fprintln(cmd.OutOrStdout(), renderStages(tpl))
			return nil
		},
	}
}

func renderStages(tpl *workflow.Template) string {
	rows := make([][]string, 0, len(tpl.Stages))
	for _, stage := range tpl.Stages {
		rows = append(rows, []string{
			stage.ID,
			stage.Name,
			string(stage.Kind),
			joinRoles(stage.AllowedRoles),
			strings.Join(stage.AllowedActions, ", "),
			describeExits(stage),
		})
	}
	return renderTable([]string{"Stage", "Name", "Kind", "Roles", "Actions", "Next"}, rows, nil)
}

func joinRoles(roles []rbac.Role) string {
	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, string(role))
	}
	return strings.Join(parts, ", ")
}

func describeExits(stage workflow.Stage) string {
	switch {
	case stage.Condition != nil:
		c := stage.Condition
		return fmt.Sprintf("%s %s %v ? %s : %s", c.Field, c.Operator, c.Value, c.IfTrue, c.IfFalse)
	case stage.Terminal():
		return "(terminal)"
	}
	parts := make([]string, 0, len(stage.Transitions))
	for _, tr := range stage.Transitions {
		parts = append(parts, tr.Action+" -> "+tr.To)
	}
	out := strings.Join(parts, ", ")
	if stage.Parallel != nil {
		out += " (after " + joinRoles(stage.Parallel.RequiredRoles) + ")"
	}
	return out
}
