package main

import (
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <entity-id>",
		Short: "Print an entity with its type, attributes and values as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, eng, err := a.openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer db.Close()
			data, err := eng.ExportData(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data = append(data, '\n')
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
