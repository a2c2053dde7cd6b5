package pg

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrationLockKey — ключ advisory lock, чтобы два процесса не катили миграции одновременно.
const migrationLockKey int64 = 0x6561766b6974 // "eavkit"

const (
	createMigrationsTableSQL = `create table if not exists schema_migrations (
  "version"    text primary key,
  "applied_at" timestamp with time zone not null default now()
)`
	migrationLockSQL   = `select pg_advisory_xact_lock($1)`
	migrationExistsSQL = `select exists(select 1 from schema_migrations where "version" = $1)`
	migrationRecordSQL = `insert into schema_migrations ("version") values ($1)`
)

// Migration — один файл из migrations/.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// LoadMigrations читает встроенные миграции в стабильном порядке (по имени файла).
func LoadMigrations() ([]Migration, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := migrations.ReadFile(path.Join("migrations", name))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		out = append(out, Migration{
			Version: strings.SplitN(name, "_", 2)[0],
			Name:    name,
			SQL:     string(b),
		})
	}
	return out, nil
}

// Migrate применяет ещё не применённые миграции, каждую в своей транзакции.
// DDL идемпотентный (create ... if not exists).
func Migrate(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	list, err := LoadMigrations()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, createMigrationsTableSQL); err != nil && !IsAlreadyExists(err) {
		return errors.Wrap(err, "create schema_migrations")
	}

	applied := 0
	for _, m := range list {
		ok, err := applyMigration(ctx, db, m, logger)
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}
	logger.Infow("Migrations complete",
		"total_migrations", len(list),
		"applied", applied,
	)
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration, logger *zap.SugaredLogger) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrapf(err, "begin tx for %s", m.Name)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migrationLockSQL, migrationLockKey); err != nil {
		return false, errors.Wrapf(err, "lock for %s", m.Name)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, migrationExistsSQL, m.Version).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check %s", m.Name)
	}
	if exists {
		logger.Debugw("Skipping migration (already applied)", "migration", m.Name, "version", m.Version)
		return false, nil
	}

	logger.Infow("Applying migration", "migration", m.Name, "version", m.Version)
	// после ошибки postgres помечает транзакцию aborted, так что тут без поблажек
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return false, errors.Wrapf(err, "execute %s", m.Name)
	}
	if _, err := tx.ExecContext(ctx, migrationRecordSQL, m.Version); err != nil {
		return false, errors.Wrapf(err, "record %s", m.Name)
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "commit %s", m.Name)
	}
	return true, nil
}
