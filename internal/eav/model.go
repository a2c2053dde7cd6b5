package eav

import (
	"encoding/json"
	"time"
)

// EntityType — схема-категория (Customer, Product, ...). Иерархия — через ParentID.
type EntityType struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	ParentID    string         `json:"parent_id,omitempty"`
	IsAbstract  bool           `json:"is_abstract"`
	SortOrder   int            `json:"sort_order"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// EntityTypeDefinition — вход CreateEntityType.
type EntityTypeDefinition struct {
	Name        string
	DisplayName string
	ParentID    string
	IsAbstract  bool
	SortOrder   int
	Metadata    map[string]any
}

type Cardinality string

const (
	CardinalitySingle Cardinality = "single"
	CardinalityMulti  Cardinality = "multi"
)

// Option — пара value/label для SELECT/MULTI_SELECT.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// ValidationRules — необязательные ограничения на значение.
type ValidationRules struct {
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

func (r ValidationRules) IsZero() bool {
	return r.Pattern == "" && r.Min == nil && r.Max == nil && r.MinLength == nil && r.MaxLength == nil
}

// AutoIncrement — настройки счётчика. Current хранит последнее выданное значение.
type AutoIncrement struct {
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix  string `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Start   int64  `json:"start" yaml:"start"`
	Padding int    `json:"padding,omitempty" yaml:"padding,omitempty"`
	Current int64  `json:"current" yaml:"-"`
}

// Attribute — определение поля в рамках одного EntityType.
type Attribute struct {
	ID                    string          `json:"id"`
	EntityTypeID          string          `json:"entity_type_id"`
	GroupID               string          `json:"group_id,omitempty"`
	Name                  string          `json:"name"`
	DisplayName           string          `json:"display_name"`
	DataType              DataType        `json:"data_type"`
	Cardinality           Cardinality     `json:"cardinality"`
	Scope                 string          `json:"scope"`
	IsRequired            bool            `json:"is_required"`
	IsUnique              bool            `json:"is_unique"`
	IsIndexed             bool            `json:"is_indexed"`
	IsSearchable          bool            `json:"is_searchable"`
	IsAuditable           bool            `json:"is_auditable"`
	IsVisible             bool            `json:"is_visible"`
	IsEditable            bool            `json:"is_editable"`
	DefaultValue          json.RawMessage `json:"default_value,omitempty"`
	Options               []Option        `json:"options,omitempty"`
	ValidationRules       ValidationRules `json:"validation_rules"`
	SortOrder             int             `json:"sort_order"`
	ReferenceEntityTypeID string          `json:"reference_entity_type_id,omitempty"`
	ReferenceDisplayField string          `json:"reference_display_field,omitempty"`
	IsAutoIncrement       bool            `json:"is_auto_increment"`
	AutoIncrement         AutoIncrement   `json:"auto_increment"`
	ExternalColumn        string          `json:"external_column,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	DeletedAt             *time.Time      `json:"deleted_at,omitempty"`
}

// IsList — значение хранится списком.
func (a *Attribute) IsList() bool {
	return a.DataType.IsList() || a.Cardinality == CardinalityMulti
}

func (a *Attribute) hasOption(v string) bool {
	for _, o := range a.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// AttributeDefinition — вход CreateAttribute. Указатели там, где у колонки
// есть ненулевой default.
type AttributeDefinition struct {
	Name                  string
	DisplayName           string
	DataType              DataType
	Cardinality           Cardinality
	Scope                 string
	GroupID               string
	IsRequired            bool
	IsUnique              bool
	IsIndexed             bool
	IsSearchable          *bool
	IsAuditable           bool
	IsVisible             *bool
	IsEditable            *bool
	DefaultValue          any
	Options               []Option
	ValidationRules       ValidationRules
	SortOrder             int
	ReferenceEntityTypeID string
	ReferenceDisplayField string
	IsAutoIncrement       bool
	AutoIncrement         AutoIncrement
	ExternalColumn        string
}

// AttributeGroup — контейнер для отображения, на хранение и валидацию не влияет.
type AttributeGroup struct {
	ID           string     `json:"id"`
	EntityTypeID string     `json:"entity_type_id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name"`
	SortOrder    int        `json:"sort_order"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Entity — экземпляр EntityType.
type Entity struct {
	ID           string         `json:"id"`
	EntityTypeID string         `json:"entity_type_id"`
	ExternalID   string         `json:"external_id,omitempty"`
	IsActive     bool           `json:"is_active"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}

// AttributeValue — элемент карты значений сущности. Value == nil — значения нет;
// Set отличает явный null (строка есть) от «никогда не задавалось».
type AttributeValue struct {
	AttributeID string   `json:"attribute_id"`
	DataType    DataType `json:"data_type"`
	Value       Value    `json:"value"`
	Set         bool     `json:"set"`
}

// ValueMap — имя атрибута -> значение.
type ValueMap map[string]AttributeValue

// Raw возвращает значения в виде, пригодном для повторной записи (импорт).
func (m ValueMap) Raw() map[string]any {
	out := make(map[string]any, len(m))
	for name, v := range m {
		if v.Value == nil {
			continue
		}
		out[name] = v.Value.Raw()
	}
	return out
}

// EntityWithValues — ответ GetWithValues.
type EntityWithValues struct {
	Entity *Entity  `json:"entity"`
	Values ValueMap `json:"values"`
}
