// Package pgtest поднимает одноразовый Postgres в контейнере для интеграционных тестов.
package pgtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"eavkit/internal/pg"
)

const image = "postgres:16-alpine"

// Start запускает контейнер, накатывает миграции и возвращает пул.
// Тест пропускается с -short и при недоступном Docker.
func Start(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: skipped with -short")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("eavkit"),
		postgres.WithUsername("eavkit"),
		postgres.WithPassword("eavkit"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	opts := pg.DefaultPoolOptions()
	opts.MaxOpenConns = 20
	db, err := pg.Open(url, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, pg.Migrate(ctx, db, nil))
	return db
}
