package eav

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidationResult — результат Validate: полный список ошибок, а не первая.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

func resultOf(errs []FieldError) ValidationResult {
	if errs == nil {
		errs = []FieldError{}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// validator сверяет карту значений с эффективными атрибутами.
type validator struct {
	q  querier
	ix typeIndex
}

func (v *validator) validate(ctx context.Context, e *Entity, attrs []*Attribute, values ValueMap) ([]FieldError, error) {
	var errs []FieldError
	for _, a := range attrs {
		val := values[a.Name].Value
		if val == nil {
			if a.IsRequired {
				errs = append(errs, ferr(CodeRequired, a.Name, fmt.Sprintf("%q is required", a.Name)))
			}
			continue
		}
		errs = append(errs, checkValue(a, val)...)

		if a.ReferenceEntityTypeID != "" {
			fe, err := v.checkReference(ctx, a, val)
			if err != nil {
				return nil, err
			}
			errs = append(errs, fe...)
		}
		if a.IsUnique {
			taken, err := v.taken(ctx, e, a, val)
			if err != nil {
				return nil, err
			}
			if taken {
				errs = append(errs, ferr(CodeUniqueViolation, a.Name,
					fmt.Sprintf("value of %q is already taken", a.Name)))
			}
		}
	}
	return errs, nil
}

// taken — есть ли у другой живой сущности того же типа такое же значение
// в той же типизированной колонке.
func (v *validator) taken(ctx context.Context, e *Entity, a *Attribute, val Value) (bool, error) {
	expr, arg := typedComparison(val, "$4")
	var exists bool
	err := v.q.QueryRowContext(ctx, `select exists(
  select 1 from eav_values v
  join eav_entities e on e.id = v.entity_id
  where v.attribute_id = $1 and e.entity_type_id = $2 and v.entity_id <> $3
    and v.deleted_at is null and e.deleted_at is null
    and `+expr+`)`, a.ID, e.EntityTypeID, e.ID, arg).Scan(&exists)
	return exists, err
}

// typedComparison — условие «колонка значения = параметр» для колонки варианта.
func typedComparison(val Value, param string) (string, any) {
	c := flatten(val)
	switch val.Column() {
	case ColumnNumber:
		return "v.number_value = " + param, c.Number
	case ColumnBoolean:
		return "v.boolean_value = " + param, c.Boolean
	case ColumnDate:
		return "v.date_value = " + param + "::date", c.Date
	case ColumnDateTime:
		return "v.datetime_value = " + param, c.DateTime
	case ColumnJSON:
		return "v.json_value = " + param + "::jsonb", c.JSON
	case ColumnBlob:
		return "v.blob_value = " + param, c.Blob
	default:
		return "v.text_value = " + param, c.Text
	}
}

// checkReference: значение — id живой сущности ссылочного типа (или его потомка).
func (v *validator) checkReference(ctx context.Context, a *Attribute, val Value) ([]FieldError, error) {
	var ids []string
	switch t := val.(type) {
	case Text:
		ids = []string{string(t)}
	case List:
		ids = t
	default:
		return nil, nil
	}
	types := v.ix.subtree(a.ReferenceEntityTypeID)
	ph := make([]string, len(types))
	args := []any{""}
	for i, id := range types {
		ph[i] = "$" + strconv.Itoa(i+2)
		args = append(args, id)
	}
	query := `select exists(select 1 from eav_entities
where id = $1 and deleted_at is null and entity_type_id in (` + strings.Join(ph, ", ") + `))`

	var errs []FieldError
	for _, id := range ids {
		args[0] = id
		var ok bool
		if err := v.q.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
			return nil, err
		}
		if !ok {
			errs = append(errs, ferr(CodeRefNotFound, a.Name, fmt.Sprintf("referenced entity %q not found", id)))
		}
	}
	return errs, nil
}

// checkValue — проверки, которым не нужна БД: options, pattern, min/max, длина.
func checkValue(a *Attribute, val Value) []FieldError {
	var errs []FieldError
	if a.DataType.HasOptions() && len(a.Options) > 0 {
		for _, s := range textItems(val) {
			if !a.hasOption(s) {
				errs = append(errs, ferr(CodeEnumInvalid, a.Name, fmt.Sprintf("%q is not an allowed option", s)))
			}
		}
	}
	r := a.ValidationRules
	if r.IsZero() {
		return errs
	}
	switch t := val.(type) {
	case Number:
		f := float64(t)
		if r.Min != nil && f < *r.Min {
			errs = append(errs, ferr(CodeOutOfRange, a.Name, fmt.Sprintf("must be >= %v", *r.Min)))
		}
		if r.Max != nil && f > *r.Max {
			errs = append(errs, ferr(CodeOutOfRange, a.Name, fmt.Sprintf("must be <= %v", *r.Max)))
		}
	case Text, List:
		for _, s := range textItems(val) {
			n := utf8.RuneCountInString(s)
			if r.MinLength != nil && n < *r.MinLength {
				errs = append(errs, ferr(CodeOutOfRange, a.Name, fmt.Sprintf("must be at least %d characters", *r.MinLength)))
			}
			if r.MaxLength != nil && n > *r.MaxLength {
				errs = append(errs, ferr(CodeOutOfRange, a.Name, fmt.Sprintf("must be at most %d characters", *r.MaxLength)))
			}
			if r.Pattern != "" {
				// шаблон уже проверен при создании атрибута
				if re, err := compilePattern(r.Pattern); err == nil && !re.MatchString(s) {
					errs = append(errs, ferr(CodePattern, a.Name, fmt.Sprintf("%q does not match %s", s, r.Pattern)))
				}
			}
		}
	}
	return errs
}

func textItems(val Value) []string {
	switch t := val.(type) {
	case Text:
		return []string{string(t)}
	case List:
		return t
	}
	return nil
}

var patternCache = newPatternCache()

func compilePattern(p string) (*regexp.Regexp, error) {
	return patternCache.get(p)
}
