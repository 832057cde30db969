package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

func newApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Request and decide temporary access",
		Long: `Submit approval requests for sensitive actions and approve or deny them.

A request is granted once it collects the approvals its workflow needs. Approvers
of MFA-gated workflows pass the step-up token from 'opstower mfa verify'.`,
	}

	cmd.AddCommand(newApprovalRequestCmd())
	cmd.AddCommand(newApprovalApproveCmd())
	cmd.AddCommand(newApprovalDenyCmd())
	cmd.AddCommand(newApprovalListCmd())

	return cmd
}

// ---------- approval request ----------

func newApprovalRequestCmd() *cobra.Command {
	var (
		action        string
		requester     string
		justification string
		fields        map[string]string
		regions       []string
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Submit an approval request",
		Example: `  opstower approval request --action unmask_pii --requester risk-01 \
      --justification "fraud case 118" --field subject_id=drv-9`,
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := parsePermission(action)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			requested := make(map[string]any, len(fields))
			for k, v := range fields {
				requested[k] = v
			}
			ctx = actorContext(ctx, requester)
			req, err := a.approvals.Submit(ctx, model.ApprovalRequest{
				Action:           perm,
				RequesterID:      requester,
				Justification:    justification,
				RequestedAction:  requested,
				RequestedRegions: model.RegionSet(regions),
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), req)
			}
			wf, _ := a.engine.Workflows().GetWorkflowDefinition(perm)
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted approval request %s\n", req.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "  action:    %s\n", req.Action)
			fmt.Fprintf(cmd.OutOrStdout(), "  approvals: %d needed", wf.RequiredApprovals())
			if wf.MFARequiredForApproval {
				fmt.Fprint(cmd.OutOrStdout(), ", MFA required")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "Permission requested (required)")
	cmd.Flags().StringVar(&requester, "requester", "", "User asking for access (required)")
	cmd.Flags().StringVar(&justification, "justification", "", "Why the access is needed")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "Workflow field as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "Regions the access should cover")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("action")
	cmd.MarkFlagRequired("requester")

	return cmd
}

// ---------- approval approve ----------

func newApprovalApproveCmd() *cobra.Command {
	var (
		approver string
		mfaToken string
	)

	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.approvals.Get(ctx, args[0])
			if err != nil {
				return err
			}
			verified := false
			if mfaToken != "" {
				if err := a.mfa.ValidateStepUpToken(mfaToken, approver, pending.Action); err != nil {
					return err
				}
				verified = true
			}
			principal, err := a.engine.Approver(ctx, approver, verified)
			if err != nil {
				return err
			}

			ctx = actorContext(ctx, approver)
			if verified {
				if err := a.mfa.RedeemStepUpToken(ctx, mfaToken, approver, pending.Action); err != nil {
					return err
				}
			}
			req, err := a.approvals.Approve(ctx, args[0], principal)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch req.Status {
			case model.ApprovalApproved:
				fmt.Fprintf(out, "Request %s approved; grant %s issued to %s\n", req.ID, req.GrantID, req.RequesterID)
			default:
				fmt.Fprintf(out, "Approval recorded on %s (%d so far: %s)\n", req.ID, len(req.Approvals), strings.Join(req.ApprovedBy(), ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "Approving user (required)")
	cmd.Flags().StringVar(&mfaToken, "mfa-token", "", "Single-use step-up token from 'opstower mfa verify'")
	cmd.MarkFlagRequired("approver")

	return cmd
}

// ---------- approval deny ----------

func newApprovalDenyCmd() *cobra.Command {
	var (
		by     string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a pending request, or withdraw your own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			principal, err := a.engine.Approver(ctx, by, false)
			if err != nil {
				return err
			}
			ctx = actorContext(ctx, by)
			req, err := a.approvals.Deny(ctx, args[0], principal, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s denied by %s\n", req.ID, req.DeniedBy)
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "Denying user (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the request is denied (required)")
	cmd.MarkFlagRequired("by")
	cmd.MarkFlagRequired("reason")

	return cmd
}

// ---------- approval list ----------

func newApprovalListCmd() *cobra.Command {
	var (
		status     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := model.ApprovalStatus(strings.ToLower(status))
			switch st {
			case model.ApprovalPending, model.ApprovalApproved, model.ApprovalDenied:
			default:
				return fmt.Errorf("unknown status %q", status)
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reqs, err := a.approvals.List(ctx, st)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), reqs)
			}

			out := cmd.OutOrStdout()
			if len(reqs) == 0 {
				fmt.Fprintf(out, "No %s requests.\n", st)
				return nil
			}
			fmt.Fprintf(out, "%-38s %-32s %-14s %-10s %s\n", "ID", "ACTION", "REQUESTER", "APPROVALS", "CREATED")
			for _, r := range reqs {
				fmt.Fprintf(out, "%-38s %-32s %-14s %-10d %s\n", r.ID, r.Action, r.RequesterID, len(r.Approvals), r.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "pending", "pending, approved or denied")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
