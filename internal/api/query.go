package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"eavkit/internal/eav"
)

// ==== Параметры листинга ====

type ListParams struct {
	Limit      int
	Offset     int
	WithValues bool
	Criteria   map[string]eav.Criterion
}

// parseListParams: limit/offset (или _limit/_offset), with_values, остальное — фильтры.
// Фильтры: field=v (несколько значений — любое из), field__in=a,b,
// field__gte/field__lte (диапазон, можно вместе), field__contains.
func parseListParams(q url.Values) (ListParams, error) {
	lp := ListParams{WithValues: true, Criteria: map[string]eav.Criterion{}}

	var err error
	if lp.Limit, err = intParam(q, "limit"); err != nil {
		return lp, err
	}
	if lp.Offset, err = intParam(q, "offset"); err != nil {
		return lp, err
	}
	if v := q.Get("with_values"); v != "" {
		if lp.WithValues, err = strconv.ParseBool(v); err != nil {
			return lp, invalidParam("with_values", v)
		}
	}

	ranges := map[string]*eav.Criterion{}
	for key, vals := range q {
		switch key {
		case "offset", "limit", "_offset", "_limit", "with_values":
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) == 0 {
			continue
		}

		field, op := splitOp(key)
		switch op {
		case "":
			if len(clean) == 1 {
				lp.Criteria[field] = eav.Exact(clean[0])
			} else {
				lp.Criteria[field] = eav.AnyOf(strs(clean)...)
			}
		case "in":
			var parts []string
			for _, v := range clean {
				for _, p := range strings.Split(v, ",") {
					if p = strings.TrimSpace(p); p != "" {
						parts = append(parts, p)
					}
				}
			}
			lp.Criteria[field] = eav.AnyOf(strs(parts)...)
		case "gte", "lte":
			r := ranges[field]
			if r == nil {
				r = &eav.Criterion{Kind: eav.CriterionRange}
				ranges[field] = r
			}
			if op == "gte" {
				r.Min = clean[0]
			} else {
				r.Max = clean[0]
			}
		case "contains":
			lp.Criteria[field] = eav.Contains(clean[0])
		default:
			return lp, invalidParam(key, clean[0])
		}
	}
	for field, r := range ranges {
		lp.Criteria[field] = *r
	}
	return lp, nil
}

func splitOp(key string) (field, op string) {
	if i := strings.LastIndex(key, "__"); i > 0 {
		return key[:i], key[i+2:]
	}
	return key, ""
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get("_" + name)
	if v == "" {
		v = q.Get(name)
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalidParam(name, v)
	}
	return n, nil
}

func invalidParam(name, value string) error {
	return errors.Wrapf(eav.ErrInvalidArgument, "bad query parameter %s=%q", name, value)
}

func strs(vs []string) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
