package eav

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"eavkit/internal/pg"
)

const attributeColumns = `id, entity_type_id, group_id, name, display_name, data_type, cardinality, scope,
  is_required, is_unique, is_indexed, is_searchable, is_auditable, is_visible, is_editable,
  default_value::text, options::text, validation_rules::text, sort_order,
  reference_entity_type_id, reference_display_field,
  is_auto_increment, auto_increment_prefix, auto_increment_suffix, auto_increment_start,
  auto_increment_padding, current_auto_increment_value, external_column,
  created_at, updated_at, deleted_at`

const maxAutoIncrementPadding = 20

func scanAttribute(r rowScanner) (*Attribute, error) {
	var (
		a        Attribute
		group    sql.NullString
		defValue sql.NullString
		options  sql.NullString
		rules    sql.NullString
		refType  sql.NullString
		deleted  sql.NullTime
	)
	err := r.Scan(&a.ID, &a.EntityTypeID, &group, &a.Name, &a.DisplayName, &a.DataType, &a.Cardinality, &a.Scope,
		&a.IsRequired, &a.IsUnique, &a.IsIndexed, &a.IsSearchable, &a.IsAuditable, &a.IsVisible, &a.IsEditable,
		&defValue, &options, &rules, &a.SortOrder,
		&refType, &a.ReferenceDisplayField,
		&a.IsAutoIncrement, &a.AutoIncrement.Prefix, &a.AutoIncrement.Suffix, &a.AutoIncrement.Start,
		&a.AutoIncrement.Padding, &a.AutoIncrement.Current, &a.ExternalColumn,
		&a.CreatedAt, &a.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	a.GroupID = group.String
	a.ReferenceEntityTypeID = refType.String
	a.DeletedAt = nullTimePtr(deleted)
	if defValue.Valid && defValue.String != "null" {
		a.DefaultValue = json.RawMessage(defValue.String)
	}
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &a.Options); err != nil {
			return nil, errors.Wrapf(err, "attribute %q: options", a.Name)
		}
	}
	if rules.Valid && rules.String != "" {
		if err := json.Unmarshal([]byte(rules.String), &a.ValidationRules); err != nil {
			return nil, errors.Wrapf(err, "attribute %q: validation_rules", a.Name)
		}
	}
	return &a, nil
}

func (s *schemaStore) getAttribute(ctx context.Context, id string) (*Attribute, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+attributeColumns+` from eav_attributes where id = $1 and deleted_at is null`, id)
	a, err := scanAttribute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("attribute", id)
	}
	return a, err
}

// ownAttributesOf — собственные (не унаследованные) атрибуты указанных типов.
func (s *schemaStore) ownAttributesOf(ctx context.Context, ids []string) (map[string][]*Attribute, error) {
	out := make(map[string][]*Attribute, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := s.q.QueryContext(ctx,
		`select `+attributeColumns+` from eav_attributes
where entity_type_id in (`+strings.Join(ph, ", ")+`) and deleted_at is null
order by sort_order, name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, err
		}
		out[a.EntityTypeID] = append(out[a.EntityTypeID], a)
	}
	return out, rows.Err()
}

// effectiveAttributes — собственные атрибуты типа и всех предков.
func (s *schemaStore) effectiveAttributes(ctx context.Context, typeID string) ([]*Attribute, error) {
	chain, err := s.resolveHierarchy(ctx, typeID)
	if err != nil {
		return nil, err
	}
	own, err := s.ownAttributesOf(ctx, typeIDs(chain))
	if err != nil {
		return nil, err
	}
	return mergeEffective(chain, own), nil
}

// normalizeDefinition проверяет определение атрибута без обращения к БД.
func normalizeDefinition(def AttributeDefinition) (AttributeDefinition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if !nameRe.MatchString(def.Name) {
		return def, invalidf("attribute name %q must match %s", def.Name, nameRe.String())
	}
	dt, ok := ParseDataType(string(def.DataType))
	if !ok {
		return def, invalidf("attribute %q: unknown data type %q", def.Name, def.DataType)
	}
	def.DataType = dt
	if strings.TrimSpace(def.DisplayName) == "" {
		def.DisplayName = def.Name
	}
	if def.Scope == "" {
		def.Scope = "global"
	}

	switch def.Cardinality {
	case "":
		def.Cardinality = CardinalitySingle
	case CardinalitySingle, CardinalityMulti:
	default:
		return def, invalidf("attribute %q: unknown cardinality %q", def.Name, def.Cardinality)
	}
	if dt.IsList() {
		def.Cardinality = CardinalityMulti
	}
	if def.Cardinality == CardinalityMulti && !dt.IsText() {
		return def, invalidf("attribute %q: multi cardinality requires a text-backed data type, got %s", def.Name, dt)
	}

	if def.IsAutoIncrement {
		if def.Cardinality != CardinalitySingle {
			return def, invalidf("attribute %q: auto-increment requires single cardinality", def.Name)
		}
		if dt != TypeNumber && dt != TypeText {
			return def, invalidf("attribute %q: auto-increment requires NUMBER or TEXT, got %s", def.Name, dt)
		}
		if def.DefaultValue != nil {
			return def, invalidf("attribute %q: auto-increment attribute cannot have a default", def.Name)
		}
		if def.AutoIncrement.Start <= 0 {
			def.AutoIncrement.Start = 1
		}
		if def.AutoIncrement.Padding < 0 || def.AutoIncrement.Padding > maxAutoIncrementPadding {
			return def, invalidf("attribute %q: padding must be within 0..%d", def.Name, maxAutoIncrementPadding)
		}
		if dt == TypeNumber && (def.AutoIncrement.Prefix != "" || def.AutoIncrement.Suffix != "") {
			return def, invalidf("attribute %q: prefix/suffix need a TEXT attribute", def.Name)
		}
	}

	if len(def.Options) > 0 && !dt.HasOptions() {
		return def, invalidf("attribute %q: options are only allowed for SELECT and MULTI_SELECT", def.Name)
	}
	seen := map[string]bool{}
	for i, o := range def.Options {
		if o.Value == "" {
			return def, invalidf("attribute %q: option %d has empty value", def.Name, i)
		}
		if seen[o.Value] {
			return def, invalidf("attribute %q: duplicate option %q", def.Name, o.Value)
		}
		seen[o.Value] = true
		if def.Options[i].Label == "" {
			def.Options[i].Label = o.Value
		}
	}

	if p := def.ValidationRules.Pattern; p != "" {
		if _, err := regexp.Compile(p); err != nil {
			return def, invalidf("attribute %q: bad pattern: %v", def.Name, err)
		}
	}
	r := def.ValidationRules
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return def, invalidf("attribute %q: min is greater than max", def.Name)
	}
	return def, nil
}

// CheckDefinition — та же проверка, что делает CreateAttribute до записи в БД.
func CheckDefinition(def AttributeDefinition) (AttributeDefinition, error) {
	return normalizeDefinition(def)
}

func (d *AttributeDefinition) toAttribute() *Attribute {
	boolOr := func(p *bool, def bool) bool {
		if p == nil {
			return def
		}
		return *p
	}
	return &Attribute{
		GroupID:               d.GroupID,
		Name:                  d.Name,
		DisplayName:           d.DisplayName,
		DataType:              d.DataType,
		Cardinality:           d.Cardinality,
		Scope:                 d.Scope,
		IsRequired:            d.IsRequired,
		IsUnique:              d.IsUnique,
		IsIndexed:             d.IsIndexed || d.IsUnique,
		IsSearchable:          boolOr(d.IsSearchable, true),
		IsAuditable:           d.IsAuditable,
		IsVisible:             boolOr(d.IsVisible, true),
		IsEditable:            boolOr(d.IsEditable, !d.IsAutoIncrement),
		Options:               d.Options,
		ValidationRules:       d.ValidationRules,
		SortOrder:             d.SortOrder,
		ReferenceEntityTypeID: d.ReferenceEntityTypeID,
		ReferenceDisplayField: d.ReferenceDisplayField,
		IsAutoIncrement:       d.IsAutoIncrement,
		AutoIncrement: AutoIncrement{
			Prefix:  d.AutoIncrement.Prefix,
			Suffix:  d.AutoIncrement.Suffix,
			Start:   d.AutoIncrement.Start,
			Padding: d.AutoIncrement.Padding,
			Current: d.AutoIncrement.Start - 1,
		},
		ExternalColumn: d.ExternalColumn,
	}
}

func (s *schemaStore) createAttribute(ctx context.Context, typeID string, def AttributeDefinition) (*Attribute, error) {
	def, err := normalizeDefinition(def)
	if err != nil {
		return nil, err
	}
	ix, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := ix.chain(typeID, s.maxDepth)
	if err != nil {
		return nil, err
	}
	// имя не должно встречаться ни у предков, ни у потомков
	related := append(typeIDs(chain), ix.subtree(typeID)[1:]...)
	own, err := s.ownAttributesOf(ctx, related)
	if err != nil {
		return nil, err
	}
	for tid, list := range own {
		for _, a := range list {
			if a.Name == def.Name {
				return nil, errors.Wrapf(ErrAttributeConflict,
					"attribute %q already declared on entity type %q", def.Name, tid)
			}
		}
	}
	if def.GroupID != "" {
		g, err := s.getGroup(ctx, def.GroupID)
		if err != nil {
			return nil, err
		}
		if g.EntityTypeID != typeID {
			return nil, invalidf("group %q belongs to another entity type", def.GroupID)
		}
	}
	if def.ReferenceEntityTypeID != "" {
		if _, ok := ix[def.ReferenceEntityTypeID]; !ok {
			return nil, notFound("entity type", def.ReferenceEntityTypeID)
		}
	}

	a := def.toAttribute()
	a.ID = newID()
	a.EntityTypeID = typeID
	a.CreatedAt = now()
	a.UpdatedAt = a.CreatedAt

	var defaultJSON sql.NullString
	if def.DefaultValue != nil {
		v, err := Coerce(a, def.DefaultValue)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidArgument, "default value: %v", err)
		}
		if fe := checkValue(a, v); len(fe) > 0 {
			return nil, invalidf("default value of %q: %s", a.Name, fe[0].Message)
		}
		if v != nil {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, errors.Wrap(err, "marshal default value")
			}
			a.DefaultValue = b
			defaultJSON = sql.NullString{String: string(b), Valid: true}
		}
	}
	optionsJSON, err := marshalJSONB(a.Options)
	if err != nil {
		return nil, err
	}
	if a.Options == nil {
		optionsJSON = "[]"
	}
	rulesJSON, err := marshalJSONB(a.ValidationRules)
	if err != nil {
		return nil, err
	}

	_, err = s.q.ExecContext(ctx, `insert into eav_attributes
  (id, entity_type_id, group_id, name, display_name, data_type, cardinality, scope,
   is_required, is_unique, is_indexed, is_searchable, is_auditable, is_visible, is_editable,
   default_value, options, validation_rules, sort_order,
   reference_entity_type_id, reference_display_field,
   is_auto_increment, auto_increment_prefix, auto_increment_suffix, auto_increment_start,
   auto_increment_padding, current_auto_increment_value, external_column, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
        $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
		a.ID, a.EntityTypeID, nullString(a.GroupID), a.Name, a.DisplayName, string(a.DataType), string(a.Cardinality), a.Scope,
		a.IsRequired, a.IsUnique, a.IsIndexed, a.IsSearchable, a.IsAuditable, a.IsVisible, a.IsEditable,
		defaultJSON, optionsJSON, rulesJSON, a.SortOrder,
		nullString(a.ReferenceEntityTypeID), a.ReferenceDisplayField,
		a.IsAutoIncrement, a.AutoIncrement.Prefix, a.AutoIncrement.Suffix, a.AutoIncrement.Start,
		a.AutoIncrement.Padding, a.AutoIncrement.Current, a.ExternalColumn, a.CreatedAt, a.UpdatedAt)
	if pg.IsUniqueViolation(err, attributeNameIndex) {
		return nil, errors.Wrapf(ErrAttributeConflict, "attribute %q already declared on entity type %q", a.Name, typeID)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// deleteAttribute — мягкое удаление. Пока на атрибут ссылаются живые значения,
// без force отказываем; с force значения гасим тем же штампом.
func (s *schemaStore) deleteAttribute(ctx context.Context, id string, force bool) (int64, error) {
	a, err := s.getAttribute(ctx, id)
	if err != nil {
		return 0, err
	}
	var inUse int64
	if err := s.q.QueryRowContext(ctx,
		`select count(*) from eav_values where attribute_id = $1 and deleted_at is null`, id).Scan(&inUse); err != nil {
		return 0, err
	}
	if inUse > 0 && !force {
		return 0, errors.WithHint(
			errors.Wrapf(ErrAttributeInUse, "attribute %q is referenced by %d values", a.Name, inUse),
			"pass force to delete the values as well")
	}
	ts := now()
	if inUse > 0 {
		if _, err := s.q.ExecContext(ctx,
			`update eav_values set deleted_at = $2, updated_at = $2 where attribute_id = $1 and deleted_at is null`,
			id, ts); err != nil {
			return 0, err
		}
	}
	if _, err := s.q.ExecContext(ctx,
		`update eav_attributes set deleted_at = $2, updated_at = $2 where id = $1`, id, ts); err != nil {
		return 0, err
	}
	return inUse, nil
}

const groupColumns = `id, entity_type_id, name, display_name, sort_order, created_at, updated_at, deleted_at`

func scanGroup(r rowScanner) (*AttributeGroup, error) {
	var (
		g       AttributeGroup
		deleted sql.NullTime
	)
	if err := r.Scan(&g.ID, &g.EntityTypeID, &g.Name, &g.DisplayName, &g.SortOrder,
		&g.CreatedAt, &g.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	g.DeletedAt = nullTimePtr(deleted)
	return &g, nil
}

func (s *schemaStore) getGroup(ctx context.Context, id string) (*AttributeGroup, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+groupColumns+` from attribute_groups where id = $1 and deleted_at is null`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("attribute group", id)
	}
	return g, err
}

func (s *schemaStore) createGroup(ctx context.Context, typeID, name, displayName string, sortOrder int) (*AttributeGroup, error) {
	name = strings.TrimSpace(name)
	if !nameRe.MatchString(name) {
		return nil, invalidf("group name %q must match %s", name, nameRe.String())
	}
	if _, err := s.getType(ctx, typeID); err != nil {
		return nil, err
	}
	var exists bool
	if err := s.q.QueryRowContext(ctx,
		`select exists(select 1 from attribute_groups where entity_type_id = $1 and name = $2 and deleted_at is null)`,
		typeID, name).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, invalidf("group %q already exists", name)
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = name
	}
	ts := now()
	g := &AttributeGroup{
		ID:           newID(),
		EntityTypeID: typeID,
		Name:         name,
		DisplayName:  displayName,
		SortOrder:    sortOrder,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	_, err := s.q.ExecContext(ctx, `insert into attribute_groups
  (id, entity_type_id, name, display_name, sort_order, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.EntityTypeID, g.Name, g.DisplayName, g.SortOrder, ts, ts)
	if pg.IsUniqueViolation(err, groupNameIndex) {
		return nil, invalidf("group %q already exists", name)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *schemaStore) listGroups(ctx context.Context, typeID string) ([]*AttributeGroup, error) {
	if _, err := s.getType(ctx, typeID); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`select `+groupColumns+` from attribute_groups
where entity_type_id = $1 and deleted_at is null order by sort_order, name`, typeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AttributeGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
