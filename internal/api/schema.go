package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"eavkit/internal/eav"
)

// valueSchema — JSON Schema карты значений для Create: по свойству на эффективный атрибут.
// Счётчики и нередактируемые поля помечены readOnly, обязательные — в required.
func valueSchema(t *eav.EntityType, attrs []*eav.Attribute) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Version:              jsonschema.Version,
		ID:                   jsonschema.ID("urn:eavkit:type:" + t.ID),
		Title:                t.DisplayName,
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
	for _, a := range attrs {
		p := attributeSchema(a)
		if a.IsRequired && !a.IsAutoIncrement {
			s.Required = append(s.Required, a.Name)
		}
		s.Properties.Set(a.Name, p)
	}
	return s
}

func attributeSchema(a *eav.Attribute) *jsonschema.Schema {
	p := scalarSchema(a)
	r := a.ValidationRules
	if r.Pattern != "" && p.Type == "string" {
		p.Pattern = r.Pattern
	}
	if p.Type == "number" {
		if r.Min != nil {
			p.Minimum = jsonNumber(*r.Min)
		}
		if r.Max != nil {
			p.Maximum = jsonNumber(*r.Max)
		}
	}
	if p.Type == "string" {
		if r.MinLength != nil && *r.MinLength >= 0 {
			n := uint64(*r.MinLength)
			p.MinLength = &n
		}
		if r.MaxLength != nil && *r.MaxLength >= 0 {
			n := uint64(*r.MaxLength)
			p.MaxLength = &n
		}
	}
	if a.IsList() {
		p = &jsonschema.Schema{Type: "array", Items: p}
	}

	p.Title = a.DisplayName
	p.ReadOnly = a.IsAutoIncrement || !a.IsEditable
	if len(a.DefaultValue) > 0 {
		var def any
		if err := json.Unmarshal(a.DefaultValue, &def); err == nil {
			p.Default = def
		}
	}
	return p
}

func scalarSchema(a *eav.Attribute) *jsonschema.Schema {
	switch a.DataType {
	case eav.TypeEmail:
		return &jsonschema.Schema{Type: "string", Format: "email"}
	case eav.TypeURL:
		return &jsonschema.Schema{Type: "string", Format: "uri"}
	case eav.TypeNumber, eav.TypeCurrency, eav.TypePercentage:
		if a.IsAutoIncrement {
			return &jsonschema.Schema{Type: "integer"}
		}
		return &jsonschema.Schema{Type: "number"}
	case eav.TypeBoolean:
		return &jsonschema.Schema{Type: "boolean"}
	case eav.TypeDate:
		return &jsonschema.Schema{Type: "string", Format: "date"}
	case eav.TypeDateTime:
		return &jsonschema.Schema{Type: "string", Format: "date-time"}
	case eav.TypeSelect, eav.TypeMultiSelect:
		enum := make([]any, len(a.Options))
		for i, o := range a.Options {
			enum[i] = o.Value
		}
		return &jsonschema.Schema{Type: "string", Enum: enum}
	case eav.TypeJSON:
		return &jsonschema.Schema{}
	case eav.TypeBlob, eav.TypeFile:
		return &jsonschema.Schema{Type: "string", ContentEncoding: "base64"}
	}
	return &jsonschema.Schema{Type: "string"}
}

func jsonNumber(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}

// GET /api/meta/types/:type/schema
func MetaSchemaHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := resolveType(c, eng)
		if !ok {
			return
		}
		attrs, err := eng.ResolveEffectiveAttributes(c.Request.Context(), t.ID)
		if err != nil {
			abort(c, err)
			return
		}
		c.Header("Content-Type", "application/schema+json")
		c.JSON(http.StatusOK, valueSchema(t, attrs))
	}
}
