package reference

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"eavkit/internal/eav"
)

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	// Order задаёт порядок в options; ValidFrom/ValidTo — YYYY-MM-DD, включительно.
	Order     int    `yaml:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty"`
}

const dateLayout = "2006-01-02"

func (d EnumDirectory) check() error {
	seen := map[string]bool{}
	for i, it := range d.Items {
		if it.Code == "" {
			return errors.Newf("enum %q: item %d has empty code", d.Name, i)
		}
		if seen[it.Code] {
			return errors.Newf("enum %q: duplicate code %q", d.Name, it.Code)
		}
		seen[it.Code] = true
		for _, s := range []string{it.ValidFrom, it.ValidTo} {
			if s == "" {
				continue
			}
			if _, err := time.Parse(dateLayout, s); err != nil {
				return errors.Newf("enum %q: item %q: bad date %q", d.Name, it.Code, s)
			}
		}
	}
	return nil
}

// activeAt — элемент действует на дату at.
func (it EnumItem) activeAt(at time.Time) bool {
	day := at.UTC().Format(dateLayout)
	if it.ValidFrom != "" && day < it.ValidFrom {
		return false
	}
	if it.ValidTo != "" && day > it.ValidTo {
		return false
	}
	return true
}

// Catalog — справочники по имени.
type Catalog map[string]EnumDirectory

// Options — действующие на дату at элементы справочника в виде options атрибута,
// по order, затем по code.
func (c Catalog) Options(name string, at time.Time) ([]eav.Option, error) {
	dir, ok := c[name]
	if !ok {
		return nil, errors.Wrapf(eav.ErrNotFound, "enum directory %q", name)
	}
	items := make([]EnumItem, 0, len(dir.Items))
	for _, it := range dir.Items {
		if it.activeAt(at) {
			items = append(items, it)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].Code < items[j].Code
	})
	out := make([]eav.Option, len(items))
	for i, it := range items {
		label := it.Name
		if label == "" {
			label = it.Code
		}
		out[i] = eav.Option{Value: it.Code, Label: label}
	}
	return out, nil
}

func (c Catalog) Has(name string) bool {
	_, ok := c[name]
	return ok
}
