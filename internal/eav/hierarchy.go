package eav

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// DefaultMaxDepth — предел обхода цепочки родителей.
const DefaultMaxDepth = 32

// typeIndex — все живые типы по id; иерархия хранится только как parent_id,
// обход явный, граф объектов не строим.
type typeIndex map[string]*EntityType

// chain возвращает тип и всех предков, начиная с самого типа.
func (ix typeIndex) chain(id string, maxDepth int) ([]*EntityType, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	t, ok := ix[id]
	if !ok {
		return nil, notFound("entity type", id)
	}
	out := []*EntityType{t}
	for t.ParentID != "" {
		if len(out) >= maxDepth {
			return nil, errors.Wrapf(ErrCycleDetected, "entity type %q: hierarchy deeper than %d", id, maxDepth)
		}
		parent, ok := ix[t.ParentID]
		if !ok {
			return nil, notFound("entity type", t.ParentID)
		}
		out = append(out, parent)
		t = parent
	}
	return out, nil
}

// wouldCycle — станет ли parentID (или его предок) потомком id.
func (ix typeIndex) wouldCycle(id, parentID string, maxDepth int) bool {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	cur := parentID
	for depth := 0; cur != ""; depth++ {
		if cur == id || depth > maxDepth {
			return true
		}
		t, ok := ix[cur]
		if !ok {
			return false
		}
		cur = t.ParentID
	}
	return false
}

// subtree — id и все его потомки (обход в ширину, стабильный порядок).
func (ix typeIndex) subtree(id string) []string {
	children := make(map[string][]string, len(ix))
	for _, t := range ix {
		if t.ParentID != "" {
			children[t.ParentID] = append(children[t.ParentID], t.ID)
		}
	}
	for _, c := range children {
		sort.Strings(c)
	}
	out := []string{id}
	seen := map[string]bool{id: true}
	for i := 0; i < len(out); i++ {
		for _, c := range children[out[i]] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// mergeEffective объединяет атрибуты цепочки: при совпадении имени побеждает
// более специфичный тип; итог упорядочен по sort_order, затем по имени.
func mergeEffective(chain []*EntityType, own map[string][]*Attribute) []*Attribute {
	seen := make(map[string]struct{})
	var out []*Attribute
	for _, t := range chain {
		for _, a := range own[t.ID] {
			if _, dup := seen[a.Name]; dup {
				continue
			}
			seen[a.Name] = struct{}{}
			out = append(out, a)
		}
	}
	sortAttributes(out)
	return out
}

func sortAttributes(attrs []*Attribute) {
	sort.SliceStable(attrs, func(i, j int) bool {
		if attrs[i].SortOrder != attrs[j].SortOrder {
			return attrs[i].SortOrder < attrs[j].SortOrder
		}
		return attrs[i].Name < attrs[j].Name
	})
}

// nameConflicts — имена, которые есть одновременно в upper и lower.
func nameConflicts(upper, lower []*Attribute) []string {
	names := make(map[string]struct{}, len(upper))
	for _, a := range upper {
		names[a.Name] = struct{}{}
	}
	var out []string
	seen := map[string]bool{}
	for _, a := range lower {
		if _, ok := names[a.Name]; ok && !seen[a.Name] {
			seen[a.Name] = true
			out = append(out, a.Name)
		}
	}
	sort.Strings(out)
	return out
}
