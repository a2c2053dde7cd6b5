package eav

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"eavkit/internal/pg"
)

// uniqueKeyIndex — частичный уникальный индекс, страхующий is_unique.
const uniqueKeyIndex = "eav_values_unique_key_uq"

// valueStore — сущности и их значения поверх querier.
type valueStore struct {
	q querier
}

const entityColumns = `e.id, e.entity_type_id, e.external_id, e.is_active, e.metadata::text, e.created_by, e.created_at, e.updated_at, e.deleted_at`

func scanEntity(r rowScanner) (*Entity, error) {
	var (
		e       Entity
		extID   sql.NullString
		meta    sql.NullString
		deleted sql.NullTime
	)
	if err := r.Scan(&e.ID, &e.EntityTypeID, &extID, &e.IsActive, &meta, &e.CreatedBy,
		&e.CreatedAt, &e.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	e.ExternalID = extID.String
	e.DeletedAt = nullTimePtr(deleted)
	md, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	e.Metadata = md
	return &e, nil
}

func (s *valueStore) insertEntity(ctx context.Context, e *Entity) error {
	meta, err := marshalJSONB(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `insert into eav_entities
  (id, entity_type_id, external_id, is_active, metadata, created_by, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.EntityTypeID, nullString(e.ExternalID), e.IsActive, meta, e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

// getEntity возвращает сущность и после мягкого удаления.
func (s *valueStore) getEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.q.QueryRowContext(ctx, `select `+entityColumns+` from eav_entities e where e.id = $1`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("entity", id)
	}
	return e, err
}

// getLiveEntity — то же, но удалённая сущность считается несуществующей.
func (s *valueStore) getLiveEntity(ctx context.Context, id string) (*Entity, error) {
	e, err := s.getEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.DeletedAt != nil {
		return nil, notFound("entity", id)
	}
	return e, nil
}

func (s *valueStore) touchEntity(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `update eav_entities set updated_at = $2 where id = $1`, id, now())
	return err
}

func (s *valueStore) setActive(ctx context.Context, id string, active bool) error {
	res, err := s.q.ExecContext(ctx,
		`update eav_entities set is_active = $2, updated_at = $3 where id = $1 and deleted_at is null`,
		id, active, now())
	if err != nil {
		return err
	}
	return expectRow(res, "entity", id)
}

// softDeleteEntity гасит сущность и её значения одним штампом.
func (s *valueStore) softDeleteEntity(ctx context.Context, id string) (int64, error) {
	ts := now()
	res, err := s.q.ExecContext(ctx,
		`update eav_entities set deleted_at = $2, updated_at = $2 where id = $1 and deleted_at is null`, id, ts)
	if err != nil {
		return 0, err
	}
	if err := expectRow(res, "entity", id); err != nil {
		return 0, err
	}
	res, err = s.q.ExecContext(ctx,
		`update eav_values set deleted_at = $2, updated_at = $2 where entity_id = $1 and deleted_at is null`, id, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// setValue — upsert по (entity_id, attribute_id): все семь колонок перезаписываются,
// так что «чужие» колонки всегда NULL. v == nil — явный null.
func (s *valueStore) setValue(ctx context.Context, e *Entity, a *Attribute, v Value) error {
	c := flatten(v)
	var key sql.NullString
	if a.IsUnique && v != nil {
		key = sql.NullString{String: v.uniqueKey(), Valid: true}
	}
	args := []any{newID(), e.ID, a.ID, e.EntityTypeID}
	args = append(args, c.args()...)
	args = append(args, key, now())
	_, err := s.q.ExecContext(ctx, `insert into eav_values
  (id, entity_id, attribute_id, entity_type_id,
   text_value, number_value, boolean_value, date_value, datetime_value, json_value, blob_value,
   unique_key, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $13)
on conflict (entity_id, attribute_id) do update set
  text_value = excluded.text_value,
  number_value = excluded.number_value,
  boolean_value = excluded.boolean_value,
  date_value = excluded.date_value,
  datetime_value = excluded.datetime_value,
  json_value = excluded.json_value,
  blob_value = excluded.blob_value,
  unique_key = excluded.unique_key,
  updated_at = excluded.updated_at,
  deleted_at = null`, args...)
	if pg.IsUniqueViolation(err, uniqueKeyIndex) {
		return &ValidationError{EntityID: e.ID, Errors: []FieldError{
			ferr(CodeUniqueViolation, a.Name, fmt.Sprintf("value of %q is already taken", a.Name)),
		}}
	}
	return err
}

func (s *valueStore) deleteValue(ctx context.Context, entityID, attributeID string) error {
	ts := now()
	res, err := s.q.ExecContext(ctx, `update eav_values set deleted_at = $3, updated_at = $3
where entity_id = $1 and attribute_id = $2 and deleted_at is null`, entityID, attributeID, ts)
	if err != nil {
		return err
	}
	return expectRow(res, "value", entityID+"/"+attributeID)
}

// getValues — карта по всем атрибутам attrs; незаданные присутствуют с Value == nil.
// Для удалённой сущности берём значения, погашенные вместе с ней.
func (s *valueStore) getValues(ctx context.Context, e *Entity, attrs []*Attribute) (ValueMap, error) {
	var deletedAt any
	if e.DeletedAt != nil {
		deletedAt = *e.DeletedAt
	}
	rows, err := s.q.QueryContext(ctx, `select v.attribute_id, `+valueColumnsSQL+`
from eav_values v
where v.entity_id = $1 and (v.deleted_at is null or v.deleted_at = $2)`, e.ID, deletedAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := map[string]columns{}
	for rows.Next() {
		var (
			attrID string
			c      columns
		)
		if err := rows.Scan(append([]any{&attrID}, c.dest()...)...); err != nil {
			return nil, err
		}
		stored[attrID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(ValueMap, len(attrs))
	for _, a := range attrs {
		av := AttributeValue{AttributeID: a.ID, DataType: a.DataType}
		if c, ok := stored[a.ID]; ok {
			v, err := c.value(a)
			if err != nil {
				return nil, err
			}
			av.Value = v
			av.Set = true
		}
		out[a.Name] = av
	}
	return out, nil
}

// nextCounter атомарно выдаёт следующее значение счётчика. Строка атрибута
// остаётся заблокированной до конца транзакции, параллельные create ждут.
func (s *valueStore) nextCounter(ctx context.Context, attributeID string) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `update eav_attributes
set current_auto_increment_value = current_auto_increment_value + 1
where id = $1 and deleted_at is null
returning current_auto_increment_value`, attributeID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("attribute", attributeID)
	}
	return n, err
}

// formatAutoIncrement: TEXT — prefix + counter с нулями до padding + suffix; NUMBER — сам счётчик.
func formatAutoIncrement(a *Attribute, n int64) Value {
	if a.DataType.Column() == ColumnNumber {
		return Number(float64(n))
	}
	digits := strconv.FormatInt(n, 10)
	if pad := a.AutoIncrement.Padding - len(digits); pad > 0 && n >= 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return Text(a.AutoIncrement.Prefix + digits + a.AutoIncrement.Suffix)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
