package eav

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavkit/internal/pg"
)

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), o)

	o = Options{DefaultLimit: 500, MaxLimit: 100, CacheSize: -1}.withDefaults()
	assert.Equal(t, 100, o.DefaultLimit)
	assert.Equal(t, -1, o.CacheSize)
	assert.Nil(t, newSchemaCache(o.CacheSize))
}

func TestNormalizePage(t *testing.T) {
	e := New(nil, nil, Options{DefaultLimit: 50, MaxLimit: 1000})

	limit, offset, err := e.normalizePage(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	limit, _, err = e.normalizePage(5000, 10)
	require.NoError(t, err)
	assert.Equal(t, 1000, limit)

	_, _, err = e.normalizePage(-1, 0)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, _, err = e.normalizePage(10, -5)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSchemaCacheVersion(t *testing.T) {
	c := newSchemaCache(4)
	gen, ok := c.observe(1)
	require.True(t, ok)
	c.putAttributes(gen, "T1", []*Attribute{{Name: "a"}})
	got, ok := c.attributes("T1")
	require.True(t, ok)
	assert.Len(t, got, 1)

	same, ok := c.observe(1)
	require.True(t, ok)
	assert.Equal(t, gen, same, "same version keeps the cache")

	newer, ok := c.observe(2)
	require.True(t, ok)
	_, ok = c.attributes("T1")
	assert.False(t, ok, "newer catalog version drops cached entries")

	c.putAttributes(gen, "T1", []*Attribute{{Name: "old"}})
	_, ok = c.attributes("T1")
	assert.False(t, ok, "values read before a reset are not cached")

	_, ok = c.observe(1)
	assert.False(t, ok, "session on an older snapshot bypasses the cache")

	c.putIndex(newer, typeIndex{"T1": {ID: "T1"}})
	c.purge(3)
	_, ok = c.index()
	assert.False(t, ok)
	_, ok = c.observe(2)
	assert.False(t, ok, "own schema change advances the cached version")

	var nilCache *schemaCache
	nilCache.purge(1)
	_, ok = nilCache.observe(1)
	assert.False(t, ok)
	_, ok = nilCache.index()
	assert.False(t, ok)
}

var (
	typeColumns = []string{"id", "name", "display_name", "parent_id", "is_abstract", "sort_order",
		"metadata", "created_at", "updated_at", "deleted_at"}
	attrColumns = []string{"id", "entity_type_id", "group_id", "name", "display_name", "data_type", "cardinality", "scope",
		"is_required", "is_unique", "is_indexed", "is_searchable", "is_auditable", "is_visible", "is_editable",
		"default_value", "options", "validation_rules", "sort_order",
		"reference_entity_type_id", "reference_display_field",
		"is_auto_increment", "auto_increment_prefix", "auto_increment_suffix", "auto_increment_start",
		"auto_increment_padding", "current_auto_increment_value", "external_column",
		"created_at", "updated_at", "deleted_at"}
)

func customerType() *sqlmock.Rows {
	return sqlmock.NewRows(typeColumns).
		AddRow("T1", "Customer", "Customer", nil, false, 0, "{}", time.Now(), time.Now(), nil)
}

func expectVersion(mock sqlmock.Sqlmock, v int64) {
	mock.ExpectQuery(regexp.QuoteMeta("from schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(v))
}

func TestEffectiveAttributesFollowCatalogVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	expectVersion(mock, 1)
	mock.ExpectQuery(regexp.QuoteMeta("from entity_types where deleted_at is null")).WillReturnRows(customerType())
	mock.ExpectQuery(regexp.QuoteMeta("from eav_attributes")).WillReturnRows(sqlmock.NewRows(attrColumns))
	mock.ExpectCommit()

	// тот же снимок каталога: только версия, схема из кэша
	mock.ExpectBegin()
	expectVersion(mock, 1)
	mock.ExpectCommit()

	// другой процесс добавил обязательный атрибут
	mock.ExpectBegin()
	expectVersion(mock, 2)
	mock.ExpectQuery(regexp.QuoteMeta("from entity_types where deleted_at is null")).WillReturnRows(customerType())
	mock.ExpectQuery(regexp.QuoteMeta("from eav_attributes")).WillReturnRows(sqlmock.NewRows(attrColumns).
		AddRow("A1", "T1", nil, "vip", "VIP", "BOOLEAN", "single", "global",
			true, false, false, true, false, true, true,
			nil, "[]", "{}", 0,
			nil, "",
			false, "", "", int64(1),
			0, int64(0), "",
			time.Now(), time.Now(), nil))
	mock.ExpectCommit()

	e := New(db, nil, Options{})
	attrs, err := e.ResolveEffectiveAttributes(ctx, "T1")
	require.NoError(t, err)
	assert.Empty(t, attrs)

	attrs, err = e.ResolveEffectiveAttributes(ctx, "T1")
	require.NoError(t, err)
	assert.Empty(t, attrs)

	attrs, err = e.ResolveEffectiveAttributes(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "vip", attrs[0].Name)
	assert.True(t, attrs[0].IsRequired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaChangeBumpsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(bumpVersionSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta("from entity_types where name = $1")).
		WithArgs("Customer").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("insert into entity_types")).
		WillReturnError(&pgconn.PgError{Code: pg.CodeUniqueViolation, ConstraintName: entityTypeNameIndex})
	mock.ExpectRollback()

	e := New(db, nil, Options{})
	_, err = e.CreateEntityType(context.Background(), EntityTypeDefinition{Name: "Customer"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "lost race on the name index: %v", err)
	assert.False(t, errors.Is(err, ErrInternal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingVersionRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockVersionSQL)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	e := New(db, nil, Options{})
	_, err = e.Create(context.Background(), "T1", nil, CreateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInternal))
	assert.Contains(t, errors.FlattenHints(err), "eavkit migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnUnknownAttribute(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockVersionSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("from entity_types where id = $1")).WithArgs("T1").WillReturnRows(customerType())
	mock.ExpectQuery(regexp.QuoteMeta("from entity_types where deleted_at is null")).WillReturnRows(customerType())
	mock.ExpectQuery(regexp.QuoteMeta("from eav_attributes")).WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectRollback()

	e := New(db, nil, Options{})
	_, err = e.Create(context.Background(), "T1", map[string]any{"ghost": 1}, CreateOptions{})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
