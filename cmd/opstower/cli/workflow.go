package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect approval workflows",
		Long: `Show the approval workflow table: which actions need approval, how many
approvers, whether approvers must pass MFA, and what a successful approval grants.`,
	}

	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowShowCmd())

	return cmd
}

func newWorkflowListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List approval workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background())
			if err != nil {
				return err
			}
			defer a.Close()

			defs := a.engine.Workflows().List()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), defs)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-32s %-9s %-5s %-4s %-8s %s\n", "ACTION", "SENSITIVE", "DUAL", "MFA", "TTL", "REQUIRED FIELDS")
			fmt.Fprintf(out, "%-32s %-9s %-5s %-4s %-8s %s\n", "------", "---------", "----", "---", "---", "---------------")
			for _, d := range defs {
				fmt.Fprintf(out, "%-32s %-9s %-5s %-4s %-8s %s\n",
					d.Action, d.SensitivityLevel, yesNo(d.DualApprovalRequired), yesNo(d.MFARequiredForApproval),
					d.DefaultTTL(), strings.Join(d.RequiredFields, ","))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newWorkflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <action>",
		Short: "Show one approval workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parsePermission(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(context.Background())
			if err != nil {
				return err
			}
			defer a.Close()

			wf, ok := a.engine.Workflows().GetWorkflowDefinition(action)
			if !ok {
				return fmt.Errorf("no approval workflow for %s", action)
			}
			return printJSON(cmd.OutOrStdout(), wf)
		},
	}
}
