package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velmie/stagedpush/internal/config"
	"github.com/velmie/stagedpush/mysql"
	"github.com/velmie/stagedpush/postgres"
)

func newSchemaCmd(flags *globalFlags) *cobra.Command {
	defaults := config.Default()
	var (
		driver string
		table  string
		apply  bool
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the staging table definition, or create the table with --apply",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apply {
				cfg, err := config.Load(flags.configPath, flags.envFile)
				if err != nil {
					return err
				}
				st, err := openStaging(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer st.close()

				if err := st.exec(cmd.Context(), st.schema); err != nil {
					return fmt.Errorf("create staging table: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "staging table ready")

				return nil
			}

			var (
				schema string
				err    error
			)
			switch driver {
			case config.DriverMySQL:
				schema, err = mysql.Schema(table)
			case config.DriverPostgres:
				schema, err = postgres.Schema(table)
			default:
				return usageError{msg: fmt.Sprintf("unknown --driver %q, use mysql or postgres", driver)}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), schema)

			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", defaults.Store.Driver, "mysql or postgres")
	cmd.Flags().StringVar(&table, "table", defaults.Store.Table, "staging table name")
	cmd.Flags().BoolVar(&apply, "apply", false, "create the table in the configured database")

	return cmd
}
