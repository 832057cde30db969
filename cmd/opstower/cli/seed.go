package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
)

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load roles and operators from a fixture file",
		Long: `Load roles and operators into the store. Without --file the built-in
fixtures are used. Roles are upserted; users that already exist are left alone,
so seeding twice is safe.`,
		Example: `  opstower seed
  opstower seed --file ./fixtures/manila.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				f   *config.Fixtures
				err error
			)
			if file != "" {
				f, err = config.LoadFixtures(file)
			} else {
				f, err = config.DefaultFixtures()
			}
			if err != nil {
				return err
			}

			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			created, err := store.ApplyFixtures(context.Background(), f)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d roles and %d new users\n", len(f.Roles), created)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Fixture YAML file (default: built-in fixtures)")

	return cmd
}
