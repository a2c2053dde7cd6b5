package dsl

import "eavkit/internal/eav"

// File — содержимое одного YAML-файла схемы.
type File struct {
	EntityTypes []EntityType `yaml:"entity_types"`
}

// EntityType описывает тип сущности из DSL
type EntityType struct {
	Name        string         `yaml:"name"`
	DisplayName string         `yaml:"display_name,omitempty"`
	Parent      string         `yaml:"parent,omitempty"`
	Abstract    bool           `yaml:"abstract,omitempty"`
	SortOrder   int            `yaml:"sort_order,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
	Groups      []Group        `yaml:"groups,omitempty"`
	Attributes  []Attribute    `yaml:"attributes,omitempty"`

	Source string `yaml:"-"` // файл, из которого прочитан тип
}

type Group struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name,omitempty"`
	SortOrder   int    `yaml:"sort_order,omitempty"`
}

// Attribute описывает поле типа. Type — имя eav.DataType в любом регистре,
// Reference и Group — имена, а не id.
type Attribute struct {
	Name             string              `yaml:"name"`
	DisplayName      string              `yaml:"display_name,omitempty"`
	Type             string              `yaml:"type"`
	Cardinality      string              `yaml:"cardinality,omitempty"`
	Scope            string              `yaml:"scope,omitempty"`
	Group            string              `yaml:"group,omitempty"`
	Required         bool                `yaml:"required,omitempty"`
	Unique           bool                `yaml:"unique,omitempty"`
	Indexed          bool                `yaml:"indexed,omitempty"`
	Searchable       *bool               `yaml:"searchable,omitempty"`
	Auditable        bool                `yaml:"auditable,omitempty"`
	Visible          *bool               `yaml:"visible,omitempty"`
	Editable         *bool               `yaml:"editable,omitempty"`
	Default          any                 `yaml:"default,omitempty"`
	Options          []eav.Option        `yaml:"options,omitempty"`
	OptionsCatalog   string              `yaml:"options_catalog,omitempty"`
	Validation       eav.ValidationRules `yaml:"validation,omitempty"`
	SortOrder        int                 `yaml:"sort_order,omitempty"`
	Reference        string              `yaml:"reference,omitempty"`
	ReferenceDisplay string              `yaml:"reference_display_field,omitempty"`
	AutoIncrement    *eav.AutoIncrement  `yaml:"auto_increment,omitempty"`
	ExternalColumn   string              `yaml:"external_column,omitempty"`
}

// Definition переводит атрибут в вход eav.CreateAttribute. Имена группы и
// ссылочного типа уже должны быть разрешены в id.
func (a Attribute) Definition(groupID, referenceTypeID string, options []eav.Option) eav.AttributeDefinition {
	def := eav.AttributeDefinition{
		Name:                  a.Name,
		DisplayName:           a.DisplayName,
		DataType:              eav.DataType(a.Type),
		Cardinality:           eav.Cardinality(a.Cardinality),
		Scope:                 a.Scope,
		GroupID:               groupID,
		IsRequired:            a.Required,
		IsUnique:              a.Unique,
		IsIndexed:             a.Indexed,
		IsSearchable:          a.Searchable,
		IsAuditable:           a.Auditable,
		IsVisible:             a.Visible,
		IsEditable:            a.Editable,
		DefaultValue:          a.Default,
		Options:               a.Options,
		ValidationRules:       a.Validation,
		SortOrder:             a.SortOrder,
		ReferenceEntityTypeID: referenceTypeID,
		ReferenceDisplayField: a.ReferenceDisplay,
		ExternalColumn:        a.ExternalColumn,
	}
	if options != nil {
		def.Options = options
	}
	if a.AutoIncrement != nil {
		def.IsAutoIncrement = true
		def.AutoIncrement = *a.AutoIncrement
	}
	return def
}
