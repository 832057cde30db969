package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/workflow"
)

type versionInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Built       string `json:"built"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
	Permissions int    `json:"permissions"`
	Workflows   int    `json:"workflows"`
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and built-in catalog sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:     version,
				Commit:      commit,
				Built:       date,
				GoVersion:   runtime.Version(),
				Platform:    runtime.GOOS + "/" + runtime.GOARCH,
				Permissions: len(model.Catalog()),
				Workflows:   workflow.DefaultRegistry().Len(),
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "opstower %s (%s, built %s)\n", info.Version, info.Commit, info.Built)
			fmt.Fprintf(out, "  %s %s\n", info.GoVersion, info.Platform)
			fmt.Fprintf(out, "  %d permissions, %d built-in workflows\n", info.Permissions, info.Workflows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
