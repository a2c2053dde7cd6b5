package eav

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

type CriterionKind int

const (
	CriterionExact CriterionKind = iota
	CriterionAnyOf
	CriterionContains
	CriterionRange
)

func (k CriterionKind) String() string {
	switch k {
	case CriterionExact:
		return "exact"
	case CriterionAnyOf:
		return "any_of"
	case CriterionContains:
		return "contains"
	case CriterionRange:
		return "range"
	}
	return "unknown"
}

// Criterion — условие поиска по одному атрибуту. Значения сырые, приводятся
// к типу атрибута при построении запроса.
type Criterion struct {
	Kind   CriterionKind
	Values []any
	Text   string
	Min    any
	Max    any
}

func Exact(v any) Criterion { return Criterion{Kind: CriterionExact, Values: []any{v}} }

func AnyOf(vs ...any) Criterion { return Criterion{Kind: CriterionAnyOf, Values: vs} }

func Contains(s string) Criterion { return Criterion{Kind: CriterionContains, Text: s} }

// Range — границы необязательны по отдельности (nil — открытый конец).
func Range(min, max any) Criterion { return Criterion{Kind: CriterionRange, Min: min, Max: max} }

// ParseCriterion разбирает JSON-форму: скаляр — точное совпадение, массив — любое из,
// {"min","max"} — диапазон, {"contains"}, {"eq"}, {"in"}.
func ParseCriterion(raw any) (Criterion, error) {
	switch t := raw.(type) {
	case nil:
		return Criterion{}, invalidf("criterion must not be null")
	case []any:
		if len(t) == 0 {
			return Criterion{}, invalidf("criterion list must not be empty")
		}
		return AnyOf(t...), nil
	case []string:
		if len(t) == 0 {
			return Criterion{}, invalidf("criterion list must not be empty")
		}
		vs := make([]any, len(t))
		for i, s := range t {
			vs[i] = s
		}
		return AnyOf(vs...), nil
	case map[string]any:
		return parseCriterionObject(t)
	case json.RawMessage:
		var v any
		if err := json.Unmarshal(t, &v); err != nil {
			return Criterion{}, invalidf("criterion: %v", err)
		}
		return ParseCriterion(v)
	default:
		return Exact(raw), nil
	}
}

func parseCriterionObject(m map[string]any) (Criterion, error) {
	if len(m) == 0 {
		return Criterion{}, invalidf("criterion object must not be empty")
	}
	_, hasMin := m["min"]
	_, hasMax := m["max"]
	if hasMin || hasMax {
		for k := range m {
			if k != "min" && k != "max" {
				return Criterion{}, invalidf("criterion: unexpected key %q next to min/max", k)
			}
		}
		c := Range(m["min"], m["max"])
		if c.Min == nil && c.Max == nil {
			return Criterion{}, invalidf("criterion: range needs min or max")
		}
		return c, nil
	}
	if len(m) != 1 {
		return Criterion{}, invalidf("criterion object must have exactly one operator")
	}
	for k, v := range m {
		switch k {
		case "contains":
			s, ok := v.(string)
			if !ok || s == "" {
				return Criterion{}, invalidf("criterion: contains needs a non-empty string")
			}
			return Contains(s), nil
		case "eq":
			if v == nil {
				return Criterion{}, invalidf("criterion: eq must not be null")
			}
			return Exact(v), nil
		case "in":
			c, err := ParseCriterion(v)
			if err != nil {
				return Criterion{}, err
			}
			if c.Kind != CriterionAnyOf {
				return Criterion{}, invalidf("criterion: in needs a list")
			}
			return c, nil
		default:
			return Criterion{}, invalidf("criterion: unknown operator %q", k)
		}
	}
	return Criterion{}, invalidf("criterion: empty")
}

// queryBuilder накапливает условия WHERE и параметры ($1, $2, ...).
type queryBuilder struct {
	whereClauses []string
	args         []any
}

// arg добавляет параметр и возвращает его плейсхолдер.
func (qb *queryBuilder) arg(v any) string {
	qb.args = append(qb.args, v)
	return "$" + strconv.Itoa(len(qb.args))
}

func (qb *queryBuilder) addClause(clause string) {
	qb.whereClauses = append(qb.whereClauses, clause)
}

func (qb *queryBuilder) build() string {
	return strings.Join(qb.whereClauses, " and ")
}

// compare — «типизированная колонка = значение».
func (qb *queryBuilder) compare(val Value) string {
	p := "$" + strconv.Itoa(len(qb.args)+1)
	expr, arg := typedComparison(val, p)
	qb.args = append(qb.args, arg)
	return expr
}

func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// buildSearch собирает WHERE поиска: тип, активность, мягкое удаление и по одному
// EXISTS на критерий. Критерии обходятся по имени — SQL детерминирован.
// Условие на атрибут с is_searchable = false — ErrInvalidArgument.
func buildSearch(typeID string, attrs []*Attribute, criteria map[string]Criterion) (*queryBuilder, error) {
	byName := make(map[string]*Attribute, len(attrs))
	for _, a := range attrs {
		byName[a.Name] = a
	}
	qb := &queryBuilder{}
	qb.addClause("e.entity_type_id = " + qb.arg(typeID))
	qb.addClause("e.is_active")
	qb.addClause("e.deleted_at is null")

	names := make([]string, 0, len(criteria))
	for name := range criteria {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a, ok := byName[name]
		if !ok {
			return nil, notFound("attribute", name)
		}
		if !a.IsSearchable {
			return nil, invalidf("attribute %q is not searchable", name)
		}
		cond, err := qb.criterion(a, criteria[name])
		if err != nil {
			return nil, err
		}
		qb.addClause(`exists (select 1 from eav_values v where v.entity_id = e.id and v.attribute_id = ` +
			qb.arg(a.ID) + ` and v.deleted_at is null and (` + cond + `))`)
	}
	return qb, nil
}

func (qb *queryBuilder) criterion(a *Attribute, c Criterion) (string, error) {
	switch c.Kind {
	case CriterionExact, CriterionAnyOf:
		if len(c.Values) == 0 {
			return "", invalidf("criterion on %q has no values", a.Name)
		}
		ors := make([]string, 0, len(c.Values))
		for _, raw := range c.Values {
			val, err := Coerce(a, raw)
			if err != nil {
				return "", err
			}
			if val == nil {
				return "", invalidf("criterion on %q: null is not searchable", a.Name)
			}
			if list, ok := val.(List); ok {
				// элемент(ы) входят в сохранённый список
				ors = append(ors, "v.text_value::jsonb @> "+qb.arg(list.encode())+"::jsonb")
				continue
			}
			ors = append(ors, qb.compare(val))
		}
		return strings.Join(ors, " or "), nil

	case CriterionContains:
		if !a.DataType.IsText() {
			return "", invalidf("substring search is not supported for %q (%s)", a.Name, a.DataType)
		}
		if c.Text == "" {
			return "", invalidf("substring search on %q needs a non-empty string", a.Name)
		}
		pattern := qb.arg("%" + escapeLikePattern(c.Text) + "%")
		if a.IsList() {
			// по элементам, а не по тексту JSON-массива
			return `exists (select 1 from jsonb_array_elements_text(v.text_value::jsonb) item where item ilike ` +
				pattern + ` escape '\')`, nil
		}
		return `v.text_value ilike ` + pattern + ` escape '\'`, nil

	case CriterionRange:
		if !a.DataType.IsOrdered() || a.IsList() {
			return "", invalidf("range search is not supported for %q (%s)", a.Name, a.DataType)
		}
		if c.Min == nil && c.Max == nil {
			return "", invalidf("range on %q needs min or max", a.Name)
		}
		col := "v." + string(a.DataType.Column())
		cast := ""
		if a.DataType.Column() == ColumnDate {
			cast = "::date"
		}
		var parts []string
		for _, bound := range []struct {
			raw any
			op  string
		}{{c.Min, ">="}, {c.Max, "<="}} {
			if bound.raw == nil {
				continue
			}
			val, err := Coerce(a, bound.raw)
			if err != nil {
				return "", err
			}
			parts = append(parts, col+" "+bound.op+" "+qb.arg(rangeArg(val))+cast)
		}
		return strings.Join(parts, " and "), nil
	}
	return "", invalidf("unknown criterion kind %d", c.Kind)
}

func rangeArg(v Value) any {
	c := flatten(v)
	switch v.Column() {
	case ColumnNumber:
		return c.Number.Float64
	case ColumnDate:
		return c.Date.Time
	default:
		return c.DateTime.Time
	}
}

// SearchResult — страница сущностей и общее число совпадений.
type SearchResult struct {
	Entities []*EntityWithValues `json:"entities"`
	Total    int64               `json:"total"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// search выполняет COUNT и страницу с одним и тем же WHERE.
func (s *valueStore) search(ctx context.Context, qb *queryBuilder, limit, offset int) ([]*Entity, int64, error) {
	where := qb.build()
	var total int64
	if err := s.q.QueryRowContext(ctx,
		`select count(distinct e.id) from eav_entities e where `+where, qb.args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count")
	}
	args := append(append([]any{}, qb.args...), limit, offset)
	n := len(qb.args)
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`select %s from eav_entities e where %s
order by e.created_at, e.id limit $%d offset $%d`, entityColumns, where, n+1, n+2), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "page")
	}
	defer rows.Close()
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
