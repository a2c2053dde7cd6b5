package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"eavkit/internal/dsl"
	"eavkit/internal/reference"
)

func newSeedCmd(a *app) *cobra.Command {
	var lintOnly bool
	cmd := &cobra.Command{
		Use:   "seed [dir]",
		Short: "Register entity types from YAML schema files",
		Long: `Loads *.yaml/*.yml from dir (default: schema_dir), checks them and creates
the missing entity types, groups and attributes. Existing ones are left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.SchemaDir
			if len(args) == 1 {
				dir = args[0]
			}
			types, err := dsl.LoadDir(dir)
			if err != nil {
				return err
			}
			catalog, err := reference.LoadEnumCatalog(a.cfg.EnumsDir)
			if err != nil {
				return err
			}
			a.logger.Infow("Schema loaded", "dir", dir, "entity_types", len(types), "enum_directories", len(catalog))

			if lintOnly {
				issues := dsl.Lint(types, catalog, nil)
				for _, is := range issues {
					fmt.Fprintln(cmd.OutOrStdout(), is.String())
				}
				if len(issues) > 0 {
					return errors.Newf("%d schema issue(s)", len(issues))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			}

			db, eng, err := a.openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer db.Close()
			rep, err := dsl.Seed(cmd.Context(), eng, types, catalog, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "types: +%d, groups: +%d, attributes: +%d, skipped: %d\n",
				rep.TypesCreated, rep.GroupsCreated, rep.AttributesCreated, rep.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&lintOnly, "lint", false, "Only check the files, do not touch the database")
	return cmd
}
