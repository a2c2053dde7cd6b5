package main

import (
	"context"
	"database/sql"

	"eavkit/internal/eav"
	"eavkit/internal/pg"
)

// openEngine открывает пул, при auto_migrate (или force) применяет миграции
// и создаёт движок. Закрытие пула — на вызывающем.
func (a *app) openEngine(ctx context.Context, migrate bool) (*sql.DB, *eav.Engine, error) {
	if err := a.cfg.RequireDB(); err != nil {
		return nil, nil, err
	}
	db, err := pg.Open(a.cfg.DBURL, a.cfg.PoolOptions(), a.logger)
	if err != nil {
		return nil, nil, err
	}
	if migrate || a.cfg.AutoMigrate {
		if err := pg.Migrate(ctx, db, a.logger); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return db, eav.New(db, a.logger.Named("eav"), a.cfg.EngineOptions()), nil
}
