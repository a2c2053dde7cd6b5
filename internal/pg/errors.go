package pg

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE коды, которые движок различает.
const (
	CodeUniqueViolation = "23505"
	CodeDuplicateObject = "42710"
	CodeDuplicateTable  = "42P07"
	CodeQueryCanceled   = "57014"
)

// AsPgError достаёт *pgconn.PgError из цепочки (pgx/stdlib отдаёт его как есть).
func AsPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsUniqueViolation — нарушение уникального индекса. Если constraint не пустой,
// сверяем ещё и имя индекса.
func IsUniqueViolation(err error, constraint string) bool {
	pgErr, ok := AsPgError(err)
	if !ok || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func IsQueryCanceled(err error) bool {
	pgErr, ok := AsPgError(err)
	return ok && pgErr.Code == CodeQueryCanceled
}

// IsAlreadyExists — DDL наткнулся на существующий объект.
func IsAlreadyExists(err error) bool {
	if pgErr, ok := AsPgError(err); ok {
		return pgErr.Code == CodeDuplicateObject || pgErr.Code == CodeDuplicateTable
	}
	// подстраховка по фразе (на случай других объектов)
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "already exists")
}
