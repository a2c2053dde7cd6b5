package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"eavkit/internal/api"
	"eavkit/internal/dsl"
	"eavkit/internal/eav"
	"eavkit/internal/reference"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP adapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, eng, err := a.openEngine(ctx, false)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := eng.Ping(ctx); err != nil {
				return err
			}

			if a.cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := api.NewRouter(eng, a.logger.Named("http"), a.cfg.RouterOptions())

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return api.RunServer(ctx, ":"+a.cfg.Port, router, a.logger)
			})
			if a.cfg.WatchSchema {
				g.Go(func() error {
					return dsl.Watch(ctx, a.cfg.SchemaDir, dsl.DefaultDebounce, a.logger.Named("schema"), func(ctx context.Context) {
						a.reseed(ctx, eng)
					})
				})
			}
			return g.Wait()
		},
	}
}

// reseed перечитывает schema_dir и досоздаёт новое; ошибки только в лог.
func (a *app) reseed(ctx context.Context, eng *eav.Engine) {
	types, err := dsl.LoadDir(a.cfg.SchemaDir)
	if err != nil {
		a.logger.Errorw("Schema reload failed", "dir", a.cfg.SchemaDir, "error", err)
		return
	}
	catalog, err := reference.LoadEnumCatalog(a.cfg.EnumsDir)
	if err != nil {
		a.logger.Errorw("Enum catalog reload failed", "dir", a.cfg.EnumsDir, "error", err)
		return
	}
	if _, err := dsl.Seed(ctx, eng, types, catalog, a.logger); err != nil {
		a.logger.Errorw("Schema re-seed failed", "error", err)
	}
}
