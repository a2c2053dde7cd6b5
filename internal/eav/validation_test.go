package eav

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func codes(errs []FieldError) []string {
	out := make([]string, len(errs))
	for i, fe := range errs {
		out[i] = fe.Code
	}
	return out
}

func TestCheckValue(t *testing.T) {
	level := attr("level", TypeSelect)
	level.Options = []Option{{Value: "gold"}, {Value: "silver"}}

	tags := attr("tags", TypeMultiSelect)
	tags.Options = []Option{{Value: "a"}, {Value: "b"}}

	age := attr("age", TypeNumber)
	age.ValidationRules = ValidationRules{Min: ptr(0.0), Max: ptr(150.0)}

	code := attr("code", TypeText)
	code.ValidationRules = ValidationRules{Pattern: `^[A-Z]{3}$`, MinLength: ptr(3), MaxLength: ptr(3)}

	tests := []struct {
		name string
		a    *Attribute
		v    Value
		want []string
	}{
		{"option ok", level, Text("gold"), []string{}},
		{"option bad", level, Text("bronze"), []string{CodeEnumInvalid}},
		{"multi option bad", tags, List{"a", "z"}, []string{CodeEnumInvalid}},
		{"in range", age, Number(30), []string{}},
		{"below min", age, Number(-1), []string{CodeOutOfRange}},
		{"above max", age, Number(151), []string{CodeOutOfRange}},
		{"pattern ok", code, Text("ABC"), []string{}},
		{"pattern and length", code, Text("abcd"), []string{CodeOutOfRange, CodePattern}},
		{"no rules", attr("free", TypeText), Text("anything"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codes(checkValue(tt.a, tt.v)))
		})
	}
}

func TestValidationErrorKinds(t *testing.T) {
	required := &ValidationError{Errors: []FieldError{ferr(CodeRequired, "email", "required")}}
	assert.True(t, errors.Is(required, ErrValidationFailed))
	assert.True(t, errors.Is(required, ErrRequiredField))
	assert.False(t, errors.Is(required, ErrDuplicateValue))

	dup := &ValidationError{Errors: []FieldError{ferr(CodeUniqueViolation, "email", "taken")}}
	wrapped := errors.Wrap(dup, "create entity")
	assert.True(t, errors.Is(wrapped, ErrDuplicateValue))
	assert.True(t, errors.Is(wrapped, ErrValidationFailed))

	var verr *ValidationError
	require.True(t, errors.As(wrapped, &verr))
	assert.Equal(t, "email", verr.Errors[0].Field)
	assert.Contains(t, wrapped.Error(), "email: unique_violation")
}

func TestResultOf(t *testing.T) {
	ok := resultOf(nil)
	assert.True(t, ok.Valid)
	assert.NotNil(t, ok.Errors)

	bad := resultOf([]FieldError{ferr(CodeRequired, "a", "")})
	assert.False(t, bad.Valid)
	assert.Len(t, bad.Errors, 1)
}
