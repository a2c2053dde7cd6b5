package dsl

import (
	"fmt"
	"strings"

	"eavkit/internal/eav"
	"eavkit/internal/reference"
)

type SchemaIssue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i SchemaIssue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s: %s", i.Entity, i.Code, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s: %s", i.Entity, i.Field, i.Code, i.Message)
}

// Lint проверяет противоречия в схеме до Seed. existing — типы, уже
// зарегистрированные в БД: на них можно ссылаться как на parent и reference.
func Lint(types []EntityType, catalog reference.Catalog, existing []*eav.EntityType) []SchemaIssue {
	var issues []SchemaIssue
	add := func(entity, field, code, format string, args ...any) {
		issues = append(issues, SchemaIssue{Entity: entity, Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	byName := map[string]*EntityType{}
	var declared []*EntityType
	known := map[string]bool{}
	for _, t := range existing {
		known[t.Name] = true
	}
	for i := range types {
		t := &types[i]
		if !eav.ValidName(t.Name) {
			add(t.Name, "", "bad_name", "entity type name %q is not a valid identifier (%s)", t.Name, t.Source)
			continue
		}
		if prev, dup := byName[t.Name]; dup {
			add(t.Name, "", "duplicate_type", "entity type declared twice (%s, %s)", prev.Source, t.Source)
			continue
		}
		byName[t.Name] = t
		declared = append(declared, t)
		known[t.Name] = true
	}

	for _, t := range declared {
		if t.Parent != "" && !known[t.Parent] {
			add(t.Name, "", "unknown_parent", "parent %q is not declared", t.Parent)
		}
		if hasCycle(t.Name, byName) {
			add(t.Name, "", "parent_cycle", "parent chain of %q loops back to itself", t.Name)
			continue
		}

		groups := map[string]bool{}
		for _, g := range t.Groups {
			if !eav.ValidName(g.Name) {
				add(t.Name, g.Name, "bad_name", "group name %q is not a valid identifier", g.Name)
			}
			if groups[g.Name] {
				add(t.Name, g.Name, "duplicate_group", "group declared twice")
			}
			groups[g.Name] = true
		}

		inherited := ancestorsAttributes(*t, byName)
		own := map[string]bool{}
		for _, a := range t.Attributes {
			if own[a.Name] {
				add(t.Name, a.Name, "duplicate_attribute", "attribute declared twice")
				continue
			}
			own[a.Name] = true
			if from, ok := inherited[a.Name]; ok {
				add(t.Name, a.Name, "duplicate_attribute", "attribute is already declared on ancestor %q", from)
			}
			issues = append(issues, lintAttribute(t.Name, a, groups, known, catalog)...)
		}
	}
	return issues
}

func lintAttribute(entity string, a Attribute, groups, known map[string]bool, catalog reference.Catalog) []SchemaIssue {
	var issues []SchemaIssue
	add := func(code, format string, args ...any) {
		issues = append(issues, SchemaIssue{Entity: entity, Field: a.Name, Code: code, Message: fmt.Sprintf(format, args...)})
	}
	if !eav.ValidName(a.Name) {
		add("bad_name", "attribute name %q is not a valid identifier", a.Name)
		return issues
	}
	dt, ok := eav.ParseDataType(a.Type)
	if !ok {
		add("unknown_data_type", "unknown data type %q", a.Type)
		return issues
	}
	if a.AutoIncrement != nil {
		switch {
		case dt != eav.TypeNumber && dt != eav.TypeText:
			add("auto_increment_misuse", "auto_increment needs NUMBER or TEXT, got %s", dt)
		case a.Default != nil:
			add("auto_increment_misuse", "auto_increment attribute cannot have a default")
		case a.Cardinality == string(eav.CardinalityMulti):
			add("auto_increment_misuse", "auto_increment needs single cardinality")
		}
	}
	if a.Group != "" && !groups[a.Group] {
		add("unknown_group", "group %q is not declared on %s", a.Group, entity)
	}
	if a.Reference != "" && !known[a.Reference] {
		add("unknown_reference", "referenced entity type %q is not declared", a.Reference)
	}

	var options []eav.Option
	if a.OptionsCatalog != "" {
		switch {
		case !dt.HasOptions():
			add("options_not_allowed", "options_catalog needs SELECT or MULTI_SELECT, got %s", dt)
		case len(a.Options) > 0:
			add("options_conflict", "options and options_catalog are mutually exclusive")
		case !catalog.Has(a.OptionsCatalog):
			add("unknown_catalog", "enum directory %q not found", a.OptionsCatalog)
		default:
			for _, it := range catalog[a.OptionsCatalog].Items {
				options = append(options, eav.Option{Value: it.Code, Label: it.Name})
			}
		}
	}
	if len(issues) > 0 {
		return issues
	}

	// остальное проверяет движок; id группы и ссылки здесь не важны
	if _, err := eav.CheckDefinition(a.Definition("", "", options)); err != nil {
		add("invalid_attribute", "%s", strings.TrimSuffix(err.Error(), ": "+eav.ErrInvalidArgument.Error()))
	}
	return issues
}

func hasCycle(name string, byName map[string]*EntityType) bool {
	seen := map[string]bool{name: true}
	cur := byName[name]
	for cur != nil && cur.Parent != "" {
		if seen[cur.Parent] {
			return true
		}
		seen[cur.Parent] = true
		cur = byName[cur.Parent]
	}
	return false
}

// ancestorsAttributes — имя атрибута -> тип-предок, где он объявлен.
// Учитываются только типы из файлов.
func ancestorsAttributes(t EntityType, byName map[string]*EntityType) map[string]string {
	out := map[string]string{}
	seen := map[string]bool{t.Name: true}
	for p := byName[t.Parent]; p != nil && !seen[p.Name]; p = byName[p.Parent] {
		seen[p.Name] = true
		for _, a := range p.Attributes {
			if _, ok := out[a.Name]; !ok {
				out[a.Name] = p.Name
			}
		}
	}
	return out
}
