package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"go.uber.org/zap"
)

// PoolOptions — параметры пула соединений database/sql.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolOptions — значения, с которыми работал сервер до появления конфига.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Open открывает пул pgx через database/sql и проверяет соединение ping'ом.
func Open(url string, opts PoolOptions, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	logger.Infow("Database opened",
		"max_open_conns", opts.MaxOpenConns,
		"max_idle_conns", opts.MaxIdleConns,
	)
	return db, nil
}
