package dsl

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"eavkit/internal/eav"
	"eavkit/internal/reference"
)

// Engine — часть eav.Engine, нужная Seed.
type Engine interface {
	ListEntityTypes(ctx context.Context) ([]*eav.EntityType, error)
	CreateEntityType(ctx context.Context, def eav.EntityTypeDefinition) (*eav.EntityType, error)
	ListGroups(ctx context.Context, typeID string) ([]*eav.AttributeGroup, error)
	CreateAttributeGroup(ctx context.Context, typeID, name, displayName string, sortOrder int) (*eav.AttributeGroup, error)
	ResolveEffectiveAttributes(ctx context.Context, typeID string) ([]*eav.Attribute, error)
	CreateAttribute(ctx context.Context, typeID string, def eav.AttributeDefinition) (*eav.Attribute, error)
}

// SeedReport — что создано и что пропущено как уже существующее.
type SeedReport struct {
	TypesCreated      int `json:"types_created"`
	GroupsCreated     int `json:"groups_created"`
	AttributesCreated int `json:"attributes_created"`
	Skipped           int `json:"skipped"`
}

// ErrSchemaIssues — Lint нашёл блокирующие проблемы.
var ErrSchemaIssues = errors.New("schema has issues")

// Seed применяет схему через движок. Повторный запуск ничего не меняет:
// существующие по имени типы, группы и атрибуты пропускаются.
func Seed(ctx context.Context, eng Engine, types []EntityType, catalog reference.Catalog, logger *zap.SugaredLogger) (SeedReport, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var rep SeedReport

	existing, err := eng.ListEntityTypes(ctx)
	if err != nil {
		return rep, err
	}
	if issues := Lint(types, catalog, existing); len(issues) > 0 {
		for _, is := range issues {
			logger.Warnw("Schema issue", "entity", is.Entity, "field", is.Field, "code", is.Code, "message", is.Message)
		}
		return rep, errors.WithHintf(errors.Wrapf(ErrSchemaIssues, "%d issue(s), first: %s", len(issues), issues[0]),
			"run `eavkit seed --lint` to list all of them")
	}

	ids := make(map[string]string, len(existing))
	for _, t := range existing {
		ids[t.Name] = t.ID
	}
	ordered, err := parentsFirst(types)
	if err != nil {
		return rep, err
	}
	for _, t := range ordered {
		if _, ok := ids[t.Name]; ok {
			rep.Skipped++
			continue
		}
		created, err := eng.CreateEntityType(ctx, eav.EntityTypeDefinition{
			Name:        t.Name,
			DisplayName: t.DisplayName,
			ParentID:    ids[t.Parent],
			IsAbstract:  t.Abstract,
			SortOrder:   t.SortOrder,
			Metadata:    t.Metadata,
		})
		if err != nil {
			return rep, errors.Wrapf(err, "create entity type %s", t.Name)
		}
		ids[t.Name] = created.ID
		rep.TypesCreated++
	}

	now := time.Now()
	for _, t := range ordered {
		if err := seedMembers(ctx, eng, t, ids, catalog, now, &rep); err != nil {
			return rep, err
		}
	}
	logger.Infow("Schema seeded", "types_created", rep.TypesCreated, "groups_created", rep.GroupsCreated,
		"attributes_created", rep.AttributesCreated, "skipped", rep.Skipped)
	return rep, nil
}

func seedMembers(ctx context.Context, eng Engine, t EntityType, ids map[string]string, catalog reference.Catalog, now time.Time, rep *SeedReport) error {
	typeID := ids[t.Name]

	groups, err := eng.ListGroups(ctx, typeID)
	if err != nil {
		return err
	}
	groupIDs := make(map[string]string, len(groups))
	for _, g := range groups {
		groupIDs[g.Name] = g.ID
	}
	for _, g := range t.Groups {
		if _, ok := groupIDs[g.Name]; ok {
			rep.Skipped++
			continue
		}
		created, err := eng.CreateAttributeGroup(ctx, typeID, g.Name, g.DisplayName, g.SortOrder)
		if err != nil {
			return errors.Wrapf(err, "create group %s.%s", t.Name, g.Name)
		}
		groupIDs[g.Name] = created.ID
		rep.GroupsCreated++
	}

	attrs, err := eng.ResolveEffectiveAttributes(ctx, typeID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		have[a.Name] = true
	}
	for _, a := range t.Attributes {
		if have[a.Name] {
			rep.Skipped++
			continue
		}
		var options []eav.Option
		if a.OptionsCatalog != "" {
			options, err = catalog.Options(a.OptionsCatalog, now)
			if err != nil {
				return err
			}
		}
		def := a.Definition(groupIDs[a.Group], ids[a.Reference], options)
		if _, err := eng.CreateAttribute(ctx, typeID, def); err != nil {
			return errors.Wrapf(err, "create attribute %s.%s", t.Name, a.Name)
		}
		rep.AttributesCreated++
	}
	return nil
}

// parentsFirst упорядочивает типы так, что родитель из файлов идёт раньше потомка.
// Внутри одного уровня сохраняется порядок объявления.
func parentsFirst(types []EntityType) ([]EntityType, error) {
	declared := make(map[string]bool, len(types))
	for _, t := range types {
		declared[t.Name] = true
	}
	placed := make(map[string]bool, len(types))
	out := make([]EntityType, 0, len(types))
	for len(out) < len(types) {
		progress := false
		for _, t := range types {
			if placed[t.Name] {
				continue
			}
			if t.Parent != "" && declared[t.Parent] && !placed[t.Parent] {
				continue
			}
			placed[t.Name] = true
			out = append(out, t)
			progress = true
		}
		if !progress {
			return nil, errors.Newf("entity type parents form a cycle")
		}
	}
	return out, nil
}
