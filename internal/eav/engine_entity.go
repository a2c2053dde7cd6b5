package eav

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// CreateOptions — необязательные поля Create.
type CreateOptions struct {
	ExternalID string
	Metadata   map[string]any
	CreatedBy  string
	// SkipValidation отключает проверку после записи. Уникальный индекс
	// в БД при этом продолжает действовать.
	SkipValidation bool
}

// UpdateOptions — необязательные поля Update.
type UpdateOptions struct {
	SkipValidation bool
}

// Create создаёт сущность с начальным набором значений. Всё в одной транзакции:
// счётчики, строка сущности, значения, проверка; при ошибке ничего не видно.
func (e *Engine) Create(ctx context.Context, typeID string, values map[string]any, opts CreateOptions) (*EntityWithValues, error) {
	return e.create(ctx, "create entity", typeID, values, opts, false)
}

func (e *Engine) create(ctx context.Context, op, typeID string, values map[string]any, opts CreateOptions, importing bool) (*EntityWithValues, error) {
	var out *EntityWithValues
	err := e.run(ctx, op, writeTxOptions, false, func(ctx context.Context, s *session) error {
		t, err := s.schema.getType(ctx, typeID)
		if err != nil {
			return err
		}
		if t.IsAbstract {
			return invalidf("entity type %q is abstract", t.Name)
		}
		attrs, err := s.effective(ctx, t.ID)
		if err != nil {
			return err
		}
		if importing {
			values = withoutGenerated(attrs, values)
		}
		typed, err := coerceInput(attrs, values, false)
		if err != nil {
			return err
		}
		for _, a := range attrs {
			if _, given := values[a.Name]; given || a.DefaultValue == nil {
				continue
			}
			v, err := decodeDefault(a)
			if err != nil {
				return err
			}
			typed = append(typed, typedValue{a, v})
		}

		ts := now()
		ent := &Entity{
			ID:           newID(),
			EntityTypeID: t.ID,
			ExternalID:   opts.ExternalID,
			IsActive:     true,
			Metadata:     opts.Metadata,
			CreatedBy:    opts.CreatedBy,
			CreatedAt:    ts,
			UpdatedAt:    ts,
		}
		if err := s.values.insertEntity(ctx, ent); err != nil {
			return err
		}
		for _, a := range attrs {
			if !a.IsAutoIncrement {
				continue
			}
			n, err := s.values.nextCounter(ctx, a.ID)
			if err != nil {
				return err
			}
			typed = append(typed, typedValue{a, formatAutoIncrement(a, n)})
		}
		res, err := s.write(ctx, ent, attrs, typed, opts.SkipValidation)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("Entity created", "entity_id", out.Entity.ID, "entity_type_id", typeID, "import", importing)
	return out, nil
}

// Update перезаписывает переданные пары (entity, attribute), остальные не трогает.
func (e *Engine) Update(ctx context.Context, entityID string, values map[string]any, opts UpdateOptions) (*EntityWithValues, error) {
	var out *EntityWithValues
	err := e.run(ctx, "update entity", writeTxOptions, false, func(ctx context.Context, s *session) error {
		ent, err := s.values.getLiveEntity(ctx, entityID)
		if err != nil {
			return err
		}
		attrs, err := s.effective(ctx, ent.EntityTypeID)
		if err != nil {
			return err
		}
		typed, err := coerceInput(attrs, values, true)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verr.EntityID = ent.ID
			}
			return err
		}
		if err := s.values.touchEntity(ctx, ent.ID); err != nil {
			return err
		}
		res, err := s.write(ctx, ent, attrs, typed, opts.SkipValidation)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("Entity updated", "entity_id", entityID, "attributes", len(values))
	return out, nil
}

// SetValue — Update одной пары.
func (e *Engine) SetValue(ctx context.Context, entityID, attribute string, raw any) (*EntityWithValues, error) {
	return e.Update(ctx, entityID, map[string]any{attribute: raw}, UpdateOptions{})
}

// DeleteValue гасит одно значение; обязательный атрибут после этого не даст закоммитить.
func (e *Engine) DeleteValue(ctx context.Context, entityID, attribute string) error {
	err := e.run(ctx, "delete value", writeTxOptions, false, func(ctx context.Context, s *session) error {
		ent, err := s.values.getLiveEntity(ctx, entityID)
		if err != nil {
			return err
		}
		attrs, err := s.effective(ctx, ent.EntityTypeID)
		if err != nil {
			return err
		}
		a := findAttribute(attrs, attribute)
		if a == nil {
			return notFound("attribute", attribute)
		}
		if a.IsAutoIncrement || !a.IsEditable {
			return &ValidationError{EntityID: ent.ID, Errors: []FieldError{readOnly(a)}}
		}
		if err := s.values.deleteValue(ctx, ent.ID, a.ID); err != nil {
			return err
		}
		if err := s.values.touchEntity(ctx, ent.ID); err != nil {
			return err
		}
		_, err = s.write(ctx, ent, attrs, nil, false)
		return err
	})
	if err == nil {
		e.logger.Infow("Value deleted", "entity_id", entityID, "attribute", attribute)
	}
	return err
}

// Delete — мягкое удаление сущности вместе со значениями.
func (e *Engine) Delete(ctx context.Context, entityID string) error {
	var n int64
	err := e.run(ctx, "delete entity", writeTxOptions, false, func(ctx context.Context, s *session) error {
		var err error
		n, err = s.values.softDeleteEntity(ctx, entityID)
		return err
	})
	if err == nil {
		e.logger.Infow("Entity deleted", "entity_id", entityID, "values_deleted", n)
	}
	return err
}

func (e *Engine) SetActive(ctx context.Context, entityID string, active bool) error {
	err := e.run(ctx, "set active", writeTxOptions, false, func(ctx context.Context, s *session) error {
		return s.values.setActive(ctx, entityID, active)
	})
	if err == nil {
		e.logger.Infow("Entity activity changed", "entity_id", entityID, "active", active)
	}
	return err
}

// GetWithValues отдаёт и мягко удалённую сущность — по прямому id.
func (e *Engine) GetWithValues(ctx context.Context, entityID string) (*EntityWithValues, error) {
	var out *EntityWithValues
	err := e.run(ctx, "get entity", readTxOptions, false, func(ctx context.Context, s *session) error {
		ent, err := s.values.getEntity(ctx, entityID)
		if err != nil {
			return err
		}
		attrs, err := s.effective(ctx, ent.EntityTypeID)
		if err != nil {
			return err
		}
		vals, err := s.values.getValues(ctx, ent, attrs)
		if err != nil {
			return err
		}
		out = &EntityWithValues{Entity: ent, Values: vals}
		return nil
	})
	if err == nil {
		e.logger.Debugw("Entity loaded", "entity_id", entityID)
	}
	return out, err
}

func (e *Engine) GetValues(ctx context.Context, entityID string) (ValueMap, error) {
	ev, err := e.GetWithValues(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return ev.Values, nil
}

// Validate — рекомендательная проверка: ошибки возвращаются данными.
func (e *Engine) Validate(ctx context.Context, entityID string) (ValidationResult, error) {
	var out ValidationResult
	err := e.run(ctx, "validate entity", readTxOptions, false, func(ctx context.Context, s *session) error {
		ent, err := s.values.getLiveEntity(ctx, entityID)
		if err != nil {
			return err
		}
		attrs, err := s.effective(ctx, ent.EntityTypeID)
		if err != nil {
			return err
		}
		vals, err := s.values.getValues(ctx, ent, attrs)
		if err != nil {
			return err
		}
		v, err := s.validator(ctx)
		if err != nil {
			return err
		}
		errs, err := v.validate(ctx, ent, attrs, vals)
		out = resultOf(errs)
		return err
	})
	return out, err
}

// SearchRequest — критерии по имени атрибута и страница.
type SearchRequest struct {
	Criteria   map[string]Criterion
	Limit      int
	Offset     int
	WithValues bool
}

// Search: count и страница читаются в одном снимке.
func (e *Engine) Search(ctx context.Context, typeID string, req SearchRequest) (*SearchResult, error) {
	limit, offset, err := e.normalizePage(req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	out := &SearchResult{Limit: limit, Offset: offset}
	err = e.run(ctx, "search", searchTxOptions, false, func(ctx context.Context, s *session) error {
		attrs, err := s.effective(ctx, typeID)
		if err != nil {
			return err
		}
		qb, err := buildSearch(typeID, attrs, req.Criteria)
		if err != nil {
			return err
		}
		ents, total, err := s.values.search(ctx, qb, limit, offset)
		if err != nil {
			return err
		}
		out.Total = total
		out.Entities = make([]*EntityWithValues, 0, len(ents))
		for _, ent := range ents {
			item := &EntityWithValues{Entity: ent}
			if req.WithValues {
				if item.Values, err = s.values.getValues(ctx, ent, attrs); err != nil {
					return err
				}
			}
			out.Entities = append(out.Entities, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("Search completed", "entity_type_id", typeID, "criteria", len(req.Criteria), "total", out.Total)
	return out, nil
}

// ExportDocument — сущность, её тип с предками, атрибуты и значения.
type ExportDocument struct {
	ExportedAt time.Time     `json:"exported_at"`
	EntityType *EntityType   `json:"entity_type"`
	Hierarchy  []*EntityType `json:"hierarchy"`
	Attributes []*Attribute  `json:"attributes"`
	Entity     *Entity       `json:"entity"`
	Values     ValueMap      `json:"values"`
}

func (e *Engine) Export(ctx context.Context, entityID string) (*ExportDocument, error) {
	var out *ExportDocument
	err := e.run(ctx, "export entity", readTxOptions, false, func(ctx context.Context, s *session) error {
		ent, err := s.values.getEntity(ctx, entityID)
		if err != nil {
			return err
		}
		ix, err := s.index(ctx)
		if err != nil {
			return err
		}
		chain, err := ix.chain(ent.EntityTypeID, e.opts.MaxDepth)
		if err != nil {
			return err
		}
		attrs, err := s.effective(ctx, ent.EntityTypeID)
		if err != nil {
			return err
		}
		vals, err := s.values.getValues(ctx, ent, attrs)
		if err != nil {
			return err
		}
		out = &ExportDocument{
			ExportedAt: now(),
			EntityType: chain[0],
			Hierarchy:  chain,
			Attributes: attrs,
			Entity:     ent,
			Values:     vals,
		}
		return nil
	})
	return out, err
}

// ExportData — Export в виде JSON-документа.
func (e *Engine) ExportData(ctx context.Context, entityID string) ([]byte, error) {
	doc, err := e.Export(ctx, entityID)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "marshal export"), ErrInternal)
	}
	return b, nil
}

// ImportData создаёт сущность из внешнего набора значений (например, из Export).
// Значения auto-increment атрибутов отбрасываются: счётчик выдаётся заново.
func (e *Engine) ImportData(ctx context.Context, typeID string, values map[string]any, opts CreateOptions) (*EntityWithValues, error) {
	return e.create(ctx, "import entity", typeID, values, opts, true)
}

func withoutGenerated(attrs []*Attribute, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, a := range attrs {
		if a.IsAutoIncrement {
			delete(out, a.Name)
		}
	}
	return out
}

type typedValue struct {
	attr  *Attribute
	value Value
}

// coerceInput приводит входную карту к типам атрибутов. Неизвестное имя и ошибка
// приведения фатальны; запись в нередактируемое поле собирается как readonly_field.
func coerceInput(attrs []*Attribute, values map[string]any, update bool) ([]typedValue, error) {
	byName := make(map[string]*Attribute, len(attrs))
	for _, a := range attrs {
		byName[a.Name] = a
	}
	var (
		out      []typedValue
		readonly []FieldError
	)
	for _, name := range sortedKeys(values) {
		a, ok := byName[name]
		if !ok {
			return nil, notFound("attribute", name)
		}
		if a.IsAutoIncrement || (update && !a.IsEditable) {
			readonly = append(readonly, readOnly(a))
			continue
		}
		v, err := Coerce(a, values[name])
		if err != nil {
			return nil, err
		}
		out = append(out, typedValue{a, v})
	}
	if len(readonly) > 0 {
		return nil, &ValidationError{Errors: readonly}
	}
	return out, nil
}

// write пишет значения, перечитывает карту и, если не отключено, валидирует.
func (s *session) write(ctx context.Context, ent *Entity, attrs []*Attribute, typed []typedValue, skipValidation bool) (*EntityWithValues, error) {
	for _, tv := range typed {
		if err := s.values.setValue(ctx, ent, tv.attr, tv.value); err != nil {
			return nil, err
		}
	}
	vals, err := s.values.getValues(ctx, ent, attrs)
	if err != nil {
		return nil, err
	}
	if !skipValidation {
		v, err := s.validator(ctx)
		if err != nil {
			return nil, err
		}
		errs, err := v.validate(ctx, ent, attrs, vals)
		if err != nil {
			return nil, err
		}
		if len(errs) > 0 {
			return nil, &ValidationError{EntityID: ent.ID, Errors: errs}
		}
	}
	return &EntityWithValues{Entity: ent, Values: vals}, nil
}

func decodeDefault(a *Attribute) (Value, error) {
	var raw any
	if err := json.Unmarshal(a.DefaultValue, &raw); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "attribute %q: stored default", a.Name), ErrInternal)
	}
	return Coerce(a, raw)
}

func findAttribute(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func readOnly(a *Attribute) FieldError {
	return ferr(CodeReadOnly, a.Name, fmt.Sprintf("%q is not writable", a.Name))
}
