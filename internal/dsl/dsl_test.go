package dsl

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavkit/internal/eav"
	"eavkit/internal/reference"
)

func loadFixtures(t *testing.T) ([]EntityType, reference.Catalog) {
	t.Helper()
	types, err := LoadDir("testdata/schema")
	require.NoError(t, err)
	cat, err := reference.LoadEnumCatalog("testdata/enums")
	require.NoError(t, err)
	return types, cat
}

func names(types []EntityType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name
	}
	return out
}

func TestLoadDir(t *testing.T) {
	types, _ := loadFixtures(t)
	// crm/customer.yml идёт раньше parties.yaml по пути
	assert.Equal(t, []string{"Customer", "Employee", "Party"}, names(types))

	customer := types[0]
	assert.Equal(t, "Party", customer.Parent)
	assert.Equal(t, filepath.Join("testdata", "schema", "crm", "customer.yml"), customer.Source)
	require.Len(t, customer.Attributes, 4)
	require.NotNil(t, customer.Attributes[0].AutoIncrement)
	assert.Equal(t, "CUS-", customer.Attributes[0].AutoIncrement.Prefix)
	assert.Equal(t, 5, customer.Attributes[0].AutoIncrement.Padding)
	assert.Equal(t, 1000, customer.Attributes[2].Default)
	require.NotNil(t, customer.Attributes[2].Validation.Min)
	assert.Equal(t, 0.0, *customer.Attributes[2].Validation.Min)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("entity_types:\n  - name: A\n    colour: red\n"), "a.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.yaml")

	types, err := Parse(nil, "empty.yaml")
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestDefinition(t *testing.T) {
	no := false
	a := Attribute{
		Name: "code", Type: "text", Required: true, Editable: &no,
		AutoIncrement: &eav.AutoIncrement{Prefix: "X-", Padding: 3},
	}
	def := a.Definition("g1", "", nil)
	assert.Equal(t, eav.DataType("text"), def.DataType)
	assert.Equal(t, "g1", def.GroupID)
	assert.True(t, def.IsAutoIncrement)
	assert.Equal(t, "X-", def.AutoIncrement.Prefix)
	assert.Same(t, &no, def.IsEditable)

	sel := Attribute{Name: "level", Type: "SELECT", Options: []eav.Option{{Value: "a"}}}
	assert.Equal(t, []eav.Option{{Value: "a"}}, sel.Definition("", "", nil).Options)
	assert.Equal(t, []eav.Option{{Value: "b"}}, sel.Definition("", "", []eav.Option{{Value: "b"}}).Options)
}

func TestLintFixturesClean(t *testing.T) {
	types, cat := loadFixtures(t)
	assert.Empty(t, Lint(types, cat, nil))
}

func TestLint(t *testing.T) {
	cat := reference.Catalog{"levels": {Name: "levels", Items: []reference.EnumItem{{Code: "gold"}}}}
	tests := []struct {
		name     string
		types    []EntityType
		existing []*eav.EntityType
		want     []string
	}{
		{
			name:  "bad type name",
			types: []EntityType{{Name: "1st"}},
			want:  []string{"bad_name"},
		},
		{
			name:  "duplicate type",
			types: []EntityType{{Name: "A"}, {Name: "A"}},
			want:  []string{"duplicate_type"},
		},
		{
			name:  "unknown parent",
			types: []EntityType{{Name: "A", Parent: "Ghost"}},
			want:  []string{"unknown_parent"},
		},
		{
			name:     "parent registered in db",
			types:    []EntityType{{Name: "A", Parent: "Base"}},
			existing: []*eav.EntityType{{ID: "t1", Name: "Base"}},
		},
		{
			name:  "cycle",
			types: []EntityType{{Name: "A", Parent: "B"}, {Name: "B", Parent: "A"}},
			want:  []string{"parent_cycle", "parent_cycle"},
		},
		{
			name:  "unknown data type",
			types: []EntityType{{Name: "A", Attributes: []Attribute{{Name: "x", Type: "MONEY"}}}},
			want:  []string{"unknown_data_type"},
		},
		{
			name:  "bad attribute name",
			types: []EntityType{{Name: "A", Attributes: []Attribute{{Name: "x-y", Type: "TEXT"}}}},
			want:  []string{"bad_name"},
		},
		{
			name: "auto increment on date",
			types: []EntityType{{Name: "A", Attributes: []Attribute{
				{Name: "x", Type: "DATE", AutoIncrement: &eav.AutoIncrement{}},
			}}},
			want: []string{"auto_increment_misuse"},
		},
		{
			name: "auto increment with default",
			types: []EntityType{{Name: "A", Attributes: []Attribute{
				{Name: "x", Type: "TEXT", Default: "a", AutoIncrement: &eav.AutoIncrement{}},
			}}},
			want: []string{"auto_increment_misuse"},
		},
		{
			name: "duplicate across chain",
			types: []EntityType{
				{Name: "Child", Parent: "Base", Attributes: []Attribute{{Name: "x", Type: "TEXT"}}},
				{Name: "Base", Attributes: []Attribute{{Name: "x", Type: "NUMBER"}}},
			},
			want: []string{"duplicate_attribute"},
		},
		{
			name: "duplicate within type",
			types: []EntityType{{Name: "A", Attributes: []Attribute{
				{Name: "x", Type: "TEXT"}, {Name: "x", Type: "TEXT"},
			}}},
			want: []string{"duplicate_attribute"},
		},
		{
			name: "unknown catalog",
			types: []EntityType{{Name: "A", Attributes: []Attribute{
				{Name: "x", Type: "SELECT", OptionsCatalog: "colours"},
			}}},
			want: []string{"unknown_catalog"},
		},
		{
			name: "catalog on text",
			types: []EntityType{{Name: "A", Attributes: []Attribute{
				{Name: "x", Type: "TEXT", OptionsCatalog: "levels"},
			}}},
			want: []string{"options_not_allowed"},
		},
		{
			name: "unknown group and reference",
			types: []EntityType{{Name: "A", Attributes: []Attribute{
				{Name: "x", Type: "TEXT", Group: "g", Reference: "Ghost"},
			}}},
			want: []string{"unknown_group", "unknown_reference"},
		},
		{
			name: "engine rule",
			types: []EntityType{{Name: "A", Attributes: []Attribute{
				{Name: "x", Type: "NUMBER", Cardinality: "multi"},
			}}},
			want: []string{"invalid_attribute"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, is := range Lint(tt.types, cat, tt.existing) {
				got = append(got, is.Code)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParentsFirst(t *testing.T) {
	types := []EntityType{{Name: "C", Parent: "B"}, {Name: "B", Parent: "A"}, {Name: "A"}, {Name: "X", Parent: "External"}}
	ordered, err := parentsFirst(types)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "X", "B", "C"}, names(ordered))

	_, err = parentsFirst([]EntityType{{Name: "A", Parent: "B"}, {Name: "B", Parent: "A"}})
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	types, cat := loadFixtures(t)
	eng := newFakeEngine()
	ctx := context.Background()

	rep, err := Seed(ctx, eng, types, cat, nil)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{TypesCreated: 3, GroupsCreated: 1, AttributesCreated: 7}, rep)

	party := eng.typeByName("Party")
	customer := eng.typeByName("Customer")
	employee := eng.typeByName("Employee")
	require.NotNil(t, party)
	assert.True(t, party.IsAbstract)
	assert.Equal(t, party.ID, customer.ParentID)

	level := eng.attr(customer.ID, "level")
	require.NotNil(t, level)
	assert.Equal(t, []eav.Option{{Value: "gold", Label: "Gold"}, {Value: "silver", Label: "Silver"}}, level.Options)
	assert.Equal(t, eng.groups[customer.ID][0].ID, level.GroupID)
	assert.Equal(t, employee.ID, eng.attr(customer.ID, "manager").ReferenceEntityTypeID)
	assert.True(t, eng.attr(customer.ID, "code").IsAutoIncrement)

	rep, err = Seed(ctx, eng, types, cat, nil)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{Skipped: 3 + 1 + 7}, rep)
}

func TestSeedStopsOnIssues(t *testing.T) {
	eng := newFakeEngine()
	_, err := Seed(context.Background(), eng, []EntityType{{Name: "A", Parent: "Ghost"}}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaIssues))
	assert.Empty(t, eng.types)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// fakeEngine — движок в памяти: наследование атрибутов без проверок.
type fakeEngine struct {
	types  []*eav.EntityType
	groups map[string][]*eav.AttributeGroup
	attrs  map[string][]*eav.Attribute
	seq    int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{groups: map[string][]*eav.AttributeGroup{}, attrs: map[string][]*eav.Attribute{}}
}

func (f *fakeEngine) id() string {
	f.seq++
	return "id-" + strconv.Itoa(f.seq)
}

func (f *fakeEngine) typeByName(name string) *eav.EntityType {
	for _, t := range f.types {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (f *fakeEngine) attr(typeID, name string) *eav.Attribute {
	for _, a := range f.attrs[typeID] {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (f *fakeEngine) ListEntityTypes(context.Context) ([]*eav.EntityType, error) {
	return f.types, nil
}

func (f *fakeEngine) CreateEntityType(_ context.Context, def eav.EntityTypeDefinition) (*eav.EntityType, error) {
	t := &eav.EntityType{ID: f.id(), Name: def.Name, ParentID: def.ParentID, IsAbstract: def.IsAbstract}
	f.types = append(f.types, t)
	return t, nil
}

func (f *fakeEngine) ListGroups(_ context.Context, typeID string) ([]*eav.AttributeGroup, error) {
	return f.groups[typeID], nil
}

func (f *fakeEngine) CreateAttributeGroup(_ context.Context, typeID, name, displayName string, sortOrder int) (*eav.AttributeGroup, error) {
	g := &eav.AttributeGroup{ID: f.id(), EntityTypeID: typeID, Name: name, DisplayName: displayName, SortOrder: sortOrder}
	f.groups[typeID] = append(f.groups[typeID], g)
	return g, nil
}

func (f *fakeEngine) ResolveEffectiveAttributes(_ context.Context, typeID string) ([]*eav.Attribute, error) {
	var out []*eav.Attribute
	for id := typeID; id != ""; {
		out = append(out, f.attrs[id]...)
		parent := ""
		for _, t := range f.types {
			if t.ID == id {
				parent = t.ParentID
			}
		}
		id = parent
	}
	return out, nil
}

func (f *fakeEngine) CreateAttribute(_ context.Context, typeID string, def eav.AttributeDefinition) (*eav.Attribute, error) {
	a := &eav.Attribute{
		ID: f.id(), EntityTypeID: typeID, Name: def.Name, GroupID: def.GroupID, Options: def.Options,
		ReferenceEntityTypeID: def.ReferenceEntityTypeID, IsAutoIncrement: def.IsAutoIncrement,
	}
	f.attrs[typeID] = append(f.attrs[typeID], a)
	return a, nil
}
