package eav

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"eavkit/internal/pg"
)

// Виды ошибок движка. Проверять через errors.Is (github.com/cockroachdb/errors).
var (
	ErrNotFound          = errors.New("not found")
	ErrTypeCoercion      = errors.New("type coercion failed")
	ErrValidationFailed  = errors.New("validation failed")
	ErrRequiredField     = errors.New("required field missing")
	ErrDuplicateValue    = errors.New("duplicate value")
	ErrAttributeConflict = errors.New("attribute name conflict")
	ErrAttributeInUse    = errors.New("attribute in use")
	ErrCycleDetected     = errors.New("entity type hierarchy cycle")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrTimeout           = errors.New("operation timed out")
	ErrInternal          = errors.New("internal error")
)

// Коды FieldError.
const (
	CodeRequired        = "required"
	CodeEnumInvalid     = "enum_invalid"
	CodeUniqueViolation = "unique_violation"
	CodeRefNotFound     = "ref_not_found"
	CodePattern         = "pattern_mismatch"
	CodeOutOfRange      = "out_of_range"
	CodeReadOnly        = "readonly_field"
)

// FieldError — одна ошибка валидации, адресованная атрибуту.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// ValidationError — отказ в записи из-за невалидного набора значений.
// Содержит полный список ошибок, а не первую.
type ValidationError struct {
	EntityID string
	Errors   []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Code)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidationFailed:
		return true
	case ErrDuplicateValue:
		return e.has(CodeUniqueViolation)
	case ErrRequiredField:
		return e.has(CodeRequired)
	}
	return false
}

func (e *ValidationError) has(code string) bool {
	for _, fe := range e.Errors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// CoercionError — сырое значение не приводится к типу атрибута.
type CoercionError struct {
	Attribute string
	DataType  DataType
	Value     any
	Reason    string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("attribute %q (%s): cannot use %s: %s", e.Attribute, e.DataType, describe(e.Value), e.Reason)
}

func (e *CoercionError) Is(target error) bool { return target == ErrTypeCoercion }

func describe(v any) string {
	s := fmt.Sprintf("%#v", v)
	if len(s) > 64 {
		s = s[:61] + "..."
	}
	return s
}

func notFound(kind, id string) error {
	return errors.Wrapf(ErrNotFound, "%s %q", kind, id)
}

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// dbError приводит ошибку хранилища к видам движка: доменные пропускаем как есть,
// дедлайн -> ErrTimeout, остальное -> ErrInternal с сохранением причины.
func dbError(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.IsAny(err, ErrNotFound, ErrTypeCoercion, ErrValidationFailed, ErrAttributeConflict,
		ErrAttributeInUse, ErrCycleDetected, ErrInvalidArgument, ErrTimeout, ErrInternal) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Mark(errors.Wrap(err, op), ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, op)
	}
	if pg.IsQueryCanceled(err) && ctx.Err() != nil {
		return errors.Mark(errors.Wrap(err, op), ErrTimeout)
	}
	return errors.Mark(errors.Wrap(err, op), ErrInternal)
}
