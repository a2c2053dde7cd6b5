package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eavkit/internal/config"
)

// app — состояние, общее для подкоманд: конфиг и логгер.
type app struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	sync   func()
}

func newRootCmd() *cobra.Command {
	a := &app{sync: func() {}}
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "eavkit",
		Short: "EAV engine over Postgres",
		Long: `eavkit — runtime-defined entity types, attributes and values stored in Postgres.

Examples:
  eavkit migrate                      # apply schema migrations
  eavkit seed schema/                 # register entity types from YAML
  eavkit serve --port 8080            # start the HTTP adapter
  eavkit export 01J9...               # print an entity as JSON`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, path)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger.Sugar()
			a.sync = func() { _ = logger.Sync() }
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.sync()
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newSeedCmd(a), newExportCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
