package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/policy"
)

// resourceFlags are shared by evaluate and vehicle.
type resourceFlags struct {
	region     string
	class      string
	pii        bool
	ownership  string
	mfa        bool
	operation  string
	channel    string
	requestID  string
	jsonOutput bool
}

func (f *resourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.region, "region", "", "Region the resource belongs to")
	cmd.Flags().StringVar(&f.class, "class", "public", "Data class: public, internal, confidential or restricted")
	cmd.Flags().BoolVar(&f.pii, "pii", false, "Resource carries personal data")
	cmd.Flags().StringVar(&f.ownership, "ownership", "", "Vehicle ownership: xpress_owned, fleet_owned, operator_owned or driver_owned")
	cmd.Flags().BoolVar(&f.mfa, "mfa", false, "Caller completed MFA step-up")
	cmd.Flags().StringVar(&f.operation, "operation", "read", "read or write")
	cmd.Flags().StringVar(&f.channel, "channel", "api", "Calling channel: ui, api, batch or agent")
	cmd.Flags().StringVar(&f.requestID, "request-id", "", "Correlation id for the audit trail")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Output the full decision as JSON")
}

func (f *resourceFlags) parse() (model.DataClass, model.OwnershipType, error) {
	class, err := model.ParseDataClass(f.class)
	if err != nil {
		return 0, "", err
	}
	var owner model.OwnershipType
	if f.ownership != "" {
		o, ok := model.ParseOwnershipType(f.ownership)
		if !ok {
			return 0, "", fmt.Errorf("unknown ownership type %q", f.ownership)
		}
		owner = o
	}
	return class, owner, nil
}

// ---------- evaluate ----------

func newEvaluateCmd() *cobra.Command {
	var (
		userID       string
		action       string
		resourceType string
		resourceID   string
		rf           resourceFlags
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Decide one access request",
		Long: `Evaluate whether a user may perform an action on a resource and print the
decision with its reasons and obligations. The decision is audited like any other.`,
		Example: `  opstower evaluate --user ops-ncr-01 --action view_vehicles_basic --type vehicle \
      --region ncr --ownership xpress_owned
  opstower evaluate --user risk-01 --action view_pii_full --type driver --region cebu \
      --class restricted --pii --mfa --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := parsePermission(action)
			if err != nil {
				return err
			}
			rt, ok := model.ParseResourceType(resourceType)
			if !ok {
				return fmt.Errorf("unknown resource type %q", resourceType)
			}
			class, owner, err := rf.parse()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			d := a.engine.EvaluatePolicy(ctx, model.PolicyEvaluationRequest{
				User: model.UserContext{ID: userID},
				Resource: model.ResourceContext{
					Type:          rt,
					ID:            resourceID,
					RegionID:      rf.region,
					DataClass:     class,
					ContainsPII:   rf.pii,
					OwnershipType: owner,
				},
				Action: perm,
				Context: model.InvocationContext{
					Channel:    model.Channel(rf.channel),
					MFAPresent: rf.mfa,
					Operation:  model.OperationType(rf.operation),
					RequestID:  rf.requestID,
				},
			})
			if rf.jsonOutput {
				return printJSON(cmd.OutOrStdout(), d)
			}
			printDecision(cmd.OutOrStdout(), d, "")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Acting user (required)")
	cmd.Flags().StringVar(&action, "action", "", "Permission being exercised (required)")
	cmd.Flags().StringVar(&resourceType, "type", "", "Resource type (required)")
	cmd.Flags().StringVar(&resourceID, "id", "", "Resource id")
	rf.register(cmd)
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("action")
	cmd.MarkFlagRequired("type")

	return cmd
}

// ---------- vehicle ----------

func newVehicleCmd() *cobra.Command {
	var (
		userID     string
		vehicleID  string
		permission string
		rf         resourceFlags
	)

	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Decide access to a fleet vehicle and its access depth",
		Example: `  opstower vehicle --user fleet-ncr-01 --vehicle veh-7 --permission view_vehicle_financials \
      --region ncr --ownership fleet_owned --class confidential`,
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := parsePermission(permission)
			if err != nil {
				return err
			}
			class, owner, err := rf.parse()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			d := a.engine.EvaluateVehicleAccess(ctx, userID, policy.VehicleContext{
				VehicleID:     vehicleID,
				RegionID:      rf.region,
				OwnershipType: owner,
				DataClass:     class,
				ContainsPII:   rf.pii,
				MFAPresent:    rf.mfa,
				Operation:     model.OperationType(rf.operation),
				Channel:       model.Channel(rf.channel),
				RequestID:     rf.requestID,
			}, perm)
			if rf.jsonOutput {
				return printJSON(cmd.OutOrStdout(), d)
			}
			printDecision(cmd.OutOrStdout(), d.PolicyDecision, d.AccessLevel)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Acting user (required)")
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Vehicle id (required)")
	cmd.Flags().StringVar(&permission, "permission", "view_vehicles_basic", "Permission being exercised")
	rf.register(cmd)
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("vehicle")

	return cmd
}

func printDecision(w io.Writer, d model.PolicyDecision, level model.OwnershipAccessLevel) {
	fmt.Fprintf(w, "%s\n", strings.ToUpper(string(d.Decision)))
	for _, r := range d.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	if level != "" {
		fmt.Fprintf(w, "  access level: %s\n", level)
	}
	if len(d.Obligations.MaskFields) > 0 {
		fmt.Fprintf(w, "  mask fields:  %s\n", strings.Join(d.Obligations.MaskFields, ", "))
	}
	fmt.Fprintf(w, "  require mfa:  %s\n", yesNo(d.Obligations.RequireMFA))
	fmt.Fprintf(w, "  audit level:  %s\n", d.Obligations.AuditLevel)
	if d.Metadata.Cached {
		fmt.Fprintln(w, "  (cached)")
	}
}
