package eav

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"eavkit/internal/pg"
)

// Частичные уникальные индексы имён; нарушение означает проигранную гонку
// с параллельным созданием и отдаётся теми же ошибками, что и проверка заранее.
const (
	entityTypeNameIndex = "entity_types_name_uq"
	attributeNameIndex  = "eav_attributes_name_uq"
	groupNameIndex      = "attribute_groups_name_uq"
)

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidName — допустимое имя типа или атрибута.
func ValidName(s string) bool { return nameRe.MatchString(s) }

// schemaStore — Type Registry + Attribute Catalog поверх одного querier.
type schemaStore struct {
	q        querier
	maxDepth int
}

const entityTypeColumns = `id, name, display_name, parent_id, is_abstract, sort_order, metadata::text, created_at, updated_at, deleted_at`

func scanEntityType(r rowScanner) (*EntityType, error) {
	var (
		t       EntityType
		parent  sql.NullString
		meta    sql.NullString
		deleted sql.NullTime
	)
	if err := r.Scan(&t.ID, &t.Name, &t.DisplayName, &parent, &t.IsAbstract, &t.SortOrder,
		&meta, &t.CreatedAt, &t.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	t.ParentID = parent.String
	t.DeletedAt = nullTimePtr(deleted)
	md, err := unmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	t.Metadata = md
	return &t, nil
}

func (s *schemaStore) getType(ctx context.Context, id string) (*EntityType, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+entityTypeColumns+` from entity_types where id = $1 and deleted_at is null`, id)
	t, err := scanEntityType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("entity type", id)
	}
	return t, err
}

func (s *schemaStore) getTypeByName(ctx context.Context, name string) (*EntityType, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+entityTypeColumns+` from entity_types where name = $1 and deleted_at is null`, name)
	t, err := scanEntityType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("entity type", name)
	}
	return t, err
}

func (s *schemaStore) listTypes(ctx context.Context) ([]*EntityType, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+entityTypeColumns+` from entity_types where deleted_at is null order by sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*EntityType
	for rows.Next() {
		t, err := scanEntityType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *schemaStore) index(ctx context.Context) (typeIndex, error) {
	list, err := s.listTypes(ctx)
	if err != nil {
		return nil, err
	}
	ix := make(typeIndex, len(list))
	for _, t := range list {
		ix[t.ID] = t
	}
	return ix, nil
}

// resolveHierarchy — тип и все его предки, от листа к корню.
func (s *schemaStore) resolveHierarchy(ctx context.Context, id string) ([]*EntityType, error) {
	ix, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	return ix.chain(id, s.maxDepth)
}

func (s *schemaStore) createType(ctx context.Context, def EntityTypeDefinition) (*EntityType, error) {
	name := strings.TrimSpace(def.Name)
	if !nameRe.MatchString(name) {
		return nil, invalidf("entity type name %q must match %s", def.Name, nameRe.String())
	}
	if _, err := s.getTypeByName(ctx, name); err == nil {
		return nil, invalidf("entity type %q already exists", name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if def.ParentID != "" {
		if _, err := s.getType(ctx, def.ParentID); err != nil {
			return nil, err
		}
	}
	display := strings.TrimSpace(def.DisplayName)
	if display == "" {
		display = name
	}
	meta, err := marshalJSONB(def.Metadata)
	if err != nil {
		return nil, err
	}

	ts := now()
	t := &EntityType{
		ID:          newID(),
		Name:        name,
		DisplayName: display,
		ParentID:    def.ParentID,
		IsAbstract:  def.IsAbstract,
		SortOrder:   def.SortOrder,
		Metadata:    def.Metadata,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	_, err = s.q.ExecContext(ctx, `insert into entity_types
  (id, name, display_name, parent_id, is_abstract, sort_order, metadata, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.DisplayName, nullString(t.ParentID), t.IsAbstract, t.SortOrder, meta, ts, ts)
	if pg.IsUniqueViolation(err, entityTypeNameIndex) {
		return nil, invalidf("entity type %q already exists", name)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// setParent перевешивает тип. Проверяет цикл и уникальность имён атрибутов
// во всём поддереве относительно новой цепочки предков.
func (s *schemaStore) setParent(ctx context.Context, id, parentID string) error {
	ix, err := s.index(ctx)
	if err != nil {
		return err
	}
	if _, ok := ix[id]; !ok {
		return notFound("entity type", id)
	}
	if parentID != "" {
		if _, ok := ix[parentID]; !ok {
			return notFound("entity type", parentID)
		}
		if ix.wouldCycle(id, parentID, s.maxDepth) {
			return errors.Wrapf(ErrCycleDetected, "entity type %q cannot become a descendant of itself", id)
		}
		ancestors, err := ix.chain(parentID, s.maxDepth)
		if err != nil {
			return err
		}
		upper, err := s.ownAttributesOf(ctx, typeIDs(ancestors))
		if err != nil {
			return err
		}
		lower, err := s.ownAttributesOf(ctx, ix.subtree(id))
		if err != nil {
			return err
		}
		if c := nameConflicts(flattenOwn(upper), flattenOwn(lower)); len(c) > 0 {
			return errors.Wrapf(ErrAttributeConflict,
				"re-parenting %q under %q: attribute names %s already inherited", id, parentID, strings.Join(c, ", "))
		}
	}
	_, err = s.q.ExecContext(ctx,
		`update entity_types set parent_id = $2, updated_at = $3 where id = $1 and deleted_at is null`,
		id, nullString(parentID), now())
	return err
}

// deleteType — мягкое удаление с каскадом на атрибуты и группы. Тип с живыми
// сущностями или дочерними типами не удаляем.
func (s *schemaStore) deleteType(ctx context.Context, id string) error {
	if _, err := s.getType(ctx, id); err != nil {
		return err
	}
	var children, entities int
	if err := s.q.QueryRowContext(ctx,
		`select count(*) from entity_types where parent_id = $1 and deleted_at is null`, id).Scan(&children); err != nil {
		return err
	}
	if children > 0 {
		return invalidf("entity type %q has %d child types", id, children)
	}
	if err := s.q.QueryRowContext(ctx,
		`select count(*) from eav_entities where entity_type_id = $1 and deleted_at is null`, id).Scan(&entities); err != nil {
		return err
	}
	if entities > 0 {
		return invalidf("entity type %q still has %d entities", id, entities)
	}
	ts := now()
	for _, stmt := range []string{
		`update eav_attributes set deleted_at = $2 where entity_type_id = $1 and deleted_at is null`,
		`update attribute_groups set deleted_at = $2 where entity_type_id = $1 and deleted_at is null`,
		`update entity_types set deleted_at = $2 where id = $1 and deleted_at is null`,
	} {
		if _, err := s.q.ExecContext(ctx, stmt, id, ts); err != nil {
			return err
		}
	}
	return nil
}

func typeIDs(list []*EntityType) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.ID)
	}
	return out
}

func flattenOwn(own map[string][]*Attribute) []*Attribute {
	var out []*Attribute
	for _, list := range own {
		out = append(out, list...)
	}
	return out
}
