package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by build_info and MCP
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opstower",
		Short: "Access-control decision engine for ride-hailing operations",
		Long: `opstower decides who may see and change operational data: vehicles, drivers,
bookings, incidents and financials.

It resolves roles, regional scope and PII clearance, runs approval workflows for
sensitive actions, issues time-boxed and emergency grants, handles MFA step-up,
and audits every decision. Agents can reach the same engine over MCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./opstower.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ./data)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "", "log format: text or json")
	cmd.PersistentFlags().String("actor", "", "operator id recorded on audit events")

	viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("actor", cmd.PersistentFlags().Lookup("actor"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newRoleCmd())
	cmd.AddCommand(newGrantCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(newApprovalCmd())
	cmd.AddCommand(newMFACmd())
	cmd.AddCommand(newEvaluateCmd())
	cmd.AddCommand(newVehicleCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("opstower")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.opstower")
	}

	viper.SetEnvPrefix("OPSTOWER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
