package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := a.openEngine(cmd.Context(), true)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}
