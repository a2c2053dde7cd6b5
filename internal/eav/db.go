package eav

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
)

// querier — общее у *sql.DB и *sql.Tx; компоненты не знают, в транзакции они или нет.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner — *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// newID — ULID, монотонный в пределах миллисекунды; ulid.Make безопасен для горутин.
func newID() string {
	return ulid.Make().String()
}

func now() time.Time { return time.Now().UTC() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func marshalJSONB(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal jsonb")
	}
	return string(b), nil
}

func unmarshalMetadata(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// inTx выполняет fn в транзакции; ошибка или паника -> rollback, иначе commit.
func inTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
