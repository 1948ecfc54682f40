package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/velune/internal/infra/sqlite"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations to the conversation database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sqlite.NewDB(a.cfg.Client.DBPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			applied, err := sqlite.MigrateUp(cmd.Context(), db)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range applied {
				fmt.Fprintf(out, "applied %03d %s\n", m.Version, m.Name) //nolint:errcheck
			}
			v, err := sqlite.MigrationVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "schema version %d\n", v) //nolint:errcheck
			return nil
		},
	}
}
