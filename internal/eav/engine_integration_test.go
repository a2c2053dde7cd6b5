package eav_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"eavkit/internal/eav"
	"eavkit/internal/pg/pgtest"
)

func testEngine(t *testing.T) *eav.Engine {
	t.Helper()
	db := pgtest.Start(t)
	return eav.New(db, zaptest.NewLogger(t).Sugar(), eav.Options{})
}

// uniq даёт имена типов, не пересекающиеся между подтестами.
func uniq(name string) string {
	return fmt.Sprintf("%s_%d", name, time.Now().UnixNano())
}

func mustType(t *testing.T, e *eav.Engine, name, parent string) *eav.EntityType {
	t.Helper()
	et, err := e.CreateEntityType(context.Background(), eav.EntityTypeDefinition{Name: uniq(name), ParentID: parent})
	require.NoError(t, err)
	return et
}

func mustAttr(t *testing.T, e *eav.Engine, typeID string, def eav.AttributeDefinition) *eav.Attribute {
	t.Helper()
	a, err := e.CreateAttribute(context.Background(), typeID, def)
	require.NoError(t, err)
	return a
}

func TestEngineIntegration(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	t.Run("required attribute is reported by name", func(t *testing.T) {
		tp := mustType(t, e, "Customer", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "email", DataType: eav.TypeEmail, IsRequired: true})
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "nickname", DataType: eav.TypeText})

		_, err := e.Create(ctx, tp.ID, map[string]any{"nickname": "bob"}, eav.CreateOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, eav.ErrRequiredField))

		var verr *eav.ValidationError
		require.True(t, errors.As(err, &verr))
		require.Len(t, verr.Errors, 1)
		assert.Equal(t, eav.FieldError{Code: eav.CodeRequired, Field: "email", Message: `"email" is required`}, verr.Errors[0])

		res, err := e.Search(ctx, tp.ID, eav.SearchRequest{})
		require.NoError(t, err)
		assert.Zero(t, res.Total, "failed create must not leave rows behind")
	})

	t.Run("unique value can be claimed once", func(t *testing.T) {
		tp := mustType(t, e, "Account", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "login", DataType: eav.TypeText, IsUnique: true})

		_, err := e.Create(ctx, tp.ID, map[string]any{"login": "alice"}, eav.CreateOptions{})
		require.NoError(t, err)
		_, err = e.Create(ctx, tp.ID, map[string]any{"login": "alice"}, eav.CreateOptions{})
		assert.True(t, errors.Is(err, eav.ErrDuplicateValue), "got %v", err)
	})

	t.Run("unique value under concurrent creates", func(t *testing.T) {
		tp := mustType(t, e, "Ticket", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "code", DataType: eav.TypeText, IsUnique: true})

		const n = 8
		results := make([]error, n)
		var g errgroup.Group
		for i := 0; i < n; i++ {
			g.Go(func() error {
				_, results[i] = e.Create(ctx, tp.ID, map[string]any{"code": "SAME"}, eav.CreateOptions{})
				return nil
			})
		}
		require.NoError(t, g.Wait())

		ok := 0
		for _, err := range results {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, errors.Is(err, eav.ErrDuplicateValue), "got %v", err)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("numeric string round-trips as number", func(t *testing.T) {
		tp := mustType(t, e, "Person", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "age", DataType: eav.TypeNumber})
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "born", DataType: eav.TypeDate})
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "note", DataType: eav.TypeText})

		ev, err := e.Create(ctx, tp.ID, map[string]any{"age": "41"}, eav.CreateOptions{})
		require.NoError(t, err)

		_, err = e.SetValue(ctx, ev.Entity.ID, "age", "42")
		require.NoError(t, err)
		_, err = e.SetValue(ctx, ev.Entity.ID, "born", "1990-05-17")
		require.NoError(t, err)

		values, err := e.GetValues(ctx, ev.Entity.ID)
		require.NoError(t, err)
		assert.Equal(t, eav.Number(42), values["age"].Value)
		assert.Equal(t, "1990-05-17", values["born"].Value.Raw())

		note, ok := values["note"]
		require.True(t, ok, "unset attributes are present")
		assert.Nil(t, note.Value)
		assert.False(t, note.Set)

		_, err = e.SetValue(ctx, ev.Entity.ID, "age", "forty")
		assert.True(t, errors.Is(err, eav.ErrTypeCoercion))
	})

	t.Run("inherited attributes and guarded delete", func(t *testing.T) {
		animal := mustType(t, e, "Animal", "")
		name := mustAttr(t, e, animal.ID, eav.AttributeDefinition{Name: "name", DataType: eav.TypeText})
		dog := mustType(t, e, "Dog", animal.ID)
		mustAttr(t, e, dog.ID, eav.AttributeDefinition{Name: "breed", DataType: eav.TypeText})

		attrs, err := e.ResolveEffectiveAttributes(ctx, dog.ID)
		require.NoError(t, err)
		var names []string
		for _, a := range attrs {
			names = append(names, a.Name)
		}
		assert.Equal(t, []string{"breed", "name"}, names)

		_, err = e.CreateAttribute(ctx, dog.ID, eav.AttributeDefinition{Name: "name", DataType: eav.TypeText})
		assert.True(t, errors.Is(err, eav.ErrAttributeConflict))
		_, err = e.CreateAttribute(ctx, animal.ID, eav.AttributeDefinition{Name: "breed", DataType: eav.TypeText})
		assert.True(t, errors.Is(err, eav.ErrAttributeConflict), "descendants are checked too")

		_, err = e.Create(ctx, dog.ID, map[string]any{"name": "Rex", "breed": "Collie"}, eav.CreateOptions{})
		require.NoError(t, err)

		err = e.DeleteAttribute(ctx, name.ID, false)
		assert.True(t, errors.Is(err, eav.ErrAttributeInUse))

		require.NoError(t, e.DeleteAttribute(ctx, name.ID, true))
		attrs, err = e.ResolveEffectiveAttributes(ctx, dog.ID)
		require.NoError(t, err)
		require.Len(t, attrs, 1)
		assert.Equal(t, "breed", attrs[0].Name)
	})

	t.Run("re-parenting checks cycles and names", func(t *testing.T) {
		root := mustType(t, e, "Root", "")
		child := mustType(t, e, "Child", root.ID)
		other := mustType(t, e, "Other", "")
		mustAttr(t, e, other.ID, eav.AttributeDefinition{Name: "title", DataType: eav.TypeText})
		mustAttr(t, e, child.ID, eav.AttributeDefinition{Name: "title", DataType: eav.TypeText})

		assert.True(t, errors.Is(e.SetParent(ctx, root.ID, child.ID), eav.ErrCycleDetected))
		assert.True(t, errors.Is(e.SetParent(ctx, root.ID, other.ID), eav.ErrAttributeConflict))

		chain, err := e.ResolveHierarchy(ctx, child.ID)
		require.NoError(t, err)
		assert.Len(t, chain, 2)
	})

	t.Run("range search counts what it pages", func(t *testing.T) {
		tp := mustType(t, e, "Member", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "age", DataType: eav.TypeNumber})
		want := map[string]bool{}
		for _, age := range []int{20, 30, 40} {
			ev, err := e.Create(ctx, tp.ID, map[string]any{"age": age}, eav.CreateOptions{})
			require.NoError(t, err)
			if age > 25 {
				want[ev.Entity.ID] = true
			}
		}

		res, err := e.Search(ctx, tp.ID, eav.SearchRequest{
			Criteria: map[string]eav.Criterion{"age": eav.Range(25, nil)},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Total)
		require.Len(t, res.Entities, 2)
		for _, item := range res.Entities {
			assert.True(t, want[item.Entity.ID])
		}

		page, err := e.Search(ctx, tp.ID, eav.SearchRequest{
			Criteria: map[string]eav.Criterion{"age": eav.Range(25, nil)},
			Limit:    1,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total)
		assert.Len(t, page.Entities, 1)
	})

	t.Run("substring and multi-select search", func(t *testing.T) {
		tp := mustType(t, e, "Product", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "title", DataType: eav.TypeText})
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "colors", DataType: eav.TypeMultiSelect,
			Options: []eav.Option{{Value: "red"}, {Value: "green"}, {Value: "blue"}}})

		mk := func(title string, colors ...string) {
			_, err := e.Create(ctx, tp.ID, map[string]any{"title": title, "colors": colors}, eav.CreateOptions{})
			require.NoError(t, err)
		}
		mk("Red Apple", "red")
		mk("Green apple", "green")
		mk("Blueberry", "blue", "red")

		res, err := e.Search(ctx, tp.ID, eav.SearchRequest{Criteria: map[string]eav.Criterion{"title": eav.Contains("APPLE")}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Total)

		res, err = e.Search(ctx, tp.ID, eav.SearchRequest{
			Criteria:   map[string]eav.Criterion{"colors": eav.AnyOf("red", "green")},
			WithValues: true,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Total)

		res, err = e.Search(ctx, tp.ID, eav.SearchRequest{Criteria: map[string]eav.Criterion{
			"colors": eav.Exact("red"),
			"title":  eav.Contains("berry"),
		}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Total)

		_, err = e.Create(ctx, tp.ID, map[string]any{"colors": []string{"purple"}}, eav.CreateOptions{})
		assert.True(t, errors.Is(err, eav.ErrValidationFailed))
	})

	t.Run("concurrent auto-increment has no gaps", func(t *testing.T) {
		tp := mustType(t, e, "Invoice", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "number", DataType: eav.TypeText, IsAutoIncrement: true,
			AutoIncrement: eav.AutoIncrement{Prefix: "INV-", Padding: 5}})

		const n = 50
		got := make([]string, n)
		var g errgroup.Group
		for i := 0; i < n; i++ {
			g.Go(func() error {
				ev, err := e.Create(ctx, tp.ID, nil, eav.CreateOptions{})
				if err != nil {
					return err
				}
				got[i] = ev.Values["number"].Value.Raw().(string)
				return nil
			})
		}
		require.NoError(t, g.Wait())

		sort.Strings(got)
		for i, v := range got {
			assert.Equal(t, fmt.Sprintf("INV-%05d", i+1), v)
		}

		ev, err := e.Create(ctx, tp.ID, nil, eav.CreateOptions{})
		require.NoError(t, err)
		_, err = e.SetValue(ctx, ev.Entity.ID, "number", "INV-99999")
		var verr *eav.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, eav.CodeReadOnly, verr.Errors[0].Code)
	})

	t.Run("soft-deleted entity is hidden from search only", func(t *testing.T) {
		tp := mustType(t, e, "Order", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "total", DataType: eav.TypeCurrency})
		ev, err := e.Create(ctx, tp.ID, map[string]any{"total": 9.99}, eav.CreateOptions{ExternalID: "ext-1"})
		require.NoError(t, err)

		require.NoError(t, e.Delete(ctx, ev.Entity.ID))

		res, err := e.Search(ctx, tp.ID, eav.SearchRequest{})
		require.NoError(t, err)
		assert.Zero(t, res.Total)

		got, err := e.GetWithValues(ctx, ev.Entity.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.Entity.DeletedAt)
		assert.Equal(t, eav.Number(9.99), got.Values["total"].Value)

		assert.True(t, errors.Is(e.Delete(ctx, ev.Entity.ID), eav.ErrNotFound))
	})

	t.Run("inactive entities are not searchable", func(t *testing.T) {
		tp := mustType(t, e, "Lead", "")
		ev, err := e.Create(ctx, tp.ID, nil, eav.CreateOptions{})
		require.NoError(t, err)
		require.NoError(t, e.SetActive(ctx, ev.Entity.ID, false))

		res, err := e.Search(ctx, tp.ID, eav.SearchRequest{})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
	})

	t.Run("defaults, references and export", func(t *testing.T) {
		company := mustType(t, e, "Company", "")
		mustAttr(t, e, company.ID, eav.AttributeDefinition{Name: "name", DataType: eav.TypeText})
		contact := mustType(t, e, "Contact", "")
		mustAttr(t, e, contact.ID, eav.AttributeDefinition{Name: "status", DataType: eav.TypeSelect,
			Options: []eav.Option{{Value: "new"}, {Value: "done"}}, DefaultValue: "new"})
		mustAttr(t, e, contact.ID, eav.AttributeDefinition{Name: "company", DataType: eav.TypeText,
			ReferenceEntityTypeID: company.ID, ReferenceDisplayField: "name"})

		acme, err := e.Create(ctx, company.ID, map[string]any{"name": "ACME"}, eav.CreateOptions{})
		require.NoError(t, err)

		_, err = e.Create(ctx, contact.ID, map[string]any{"company": "missing"}, eav.CreateOptions{})
		var verr *eav.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, eav.CodeRefNotFound, verr.Errors[0].Code)

		ev, err := e.Create(ctx, contact.ID, map[string]any{"company": acme.Entity.ID}, eav.CreateOptions{CreatedBy: "tester"})
		require.NoError(t, err)
		assert.Equal(t, eav.Text("new"), ev.Values["status"].Value)

		doc, err := e.ExportData(ctx, ev.Entity.ID)
		require.NoError(t, err)
		var parsed map[string]any
		require.NoError(t, json.Unmarshal(doc, &parsed))
		assert.Equal(t, contact.Name, parsed["entity_type"].(map[string]any)["name"])
		assert.Equal(t, "new", parsed["values"].(map[string]any)["status"].(map[string]any)["value"])

		copied, err := e.ImportData(ctx, contact.ID, ev.Values.Raw(), eav.CreateOptions{ExternalID: "copy"})
		require.NoError(t, err)
		assert.NotEqual(t, ev.Entity.ID, copied.Entity.ID)

		result, err := e.Validate(ctx, copied.Entity.ID)
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("export round-trips through import with counters", func(t *testing.T) {
		tp := mustType(t, e, "Invoice", "")
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "number", DataType: eav.TypeText,
			IsAutoIncrement: true, AutoIncrement: eav.AutoIncrement{Prefix: "INV-", Padding: 4}})
		mustAttr(t, e, tp.ID, eav.AttributeDefinition{Name: "title", DataType: eav.TypeText})

		src, err := e.Create(ctx, tp.ID, map[string]any{"title": "first"}, eav.CreateOptions{})
		require.NoError(t, err)
		require.Equal(t, eav.Text("INV-0001"), src.Values["number"].Value)

		doc, err := e.Export(ctx, src.Entity.ID)
		require.NoError(t, err)
		copied, err := e.ImportData(ctx, tp.ID, doc.Values.Raw(), eav.CreateOptions{ExternalID: "restored"})
		require.NoError(t, err)
		assert.Equal(t, eav.Text("first"), copied.Values["title"].Value)
		assert.Equal(t, eav.Text("INV-0002"), copied.Values["number"].Value)
	})

	t.Run("concurrent schema changes keep names unique along the chain", func(t *testing.T) {
		parent := mustType(t, e, "Asset", "")
		child := mustType(t, e, "Laptop", parent.ID)

		const rounds = 5
		for i := 0; i < rounds; i++ {
			name := fmt.Sprintf("serial_%d", i)
			var (
				g    errgroup.Group
				errs [2]error
			)
			for j, typeID := range []string{parent.ID, child.ID} {
				g.Go(func() error {
					_, errs[j] = e.CreateAttribute(ctx, typeID, eav.AttributeDefinition{Name: name, DataType: eav.TypeText})
					return nil
				})
			}
			require.NoError(t, g.Wait())
			failed := 0
			for _, err := range errs {
				if err != nil {
					failed++
					assert.True(t, errors.Is(err, eav.ErrAttributeConflict), "got %v", err)
				}
			}
			assert.Equal(t, 1, failed, "exactly one of parent/child gets %q", name)
		}

		name := uniq("Gadget")
		var (
			g    errgroup.Group
			errs [4]error
		)
		for j := range errs {
			g.Go(func() error {
				_, errs[j] = e.CreateEntityType(ctx, eav.EntityTypeDefinition{Name: name})
				return nil
			})
		}
		require.NoError(t, g.Wait())
		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.True(t, errors.Is(err, eav.ErrInvalidArgument), "got %v", err)
		}
		assert.Equal(t, 1, created)
	})

	t.Run("abstract types and unknown attributes", func(t *testing.T) {
		base := mustType(t, e, "Base", "")
		_, err := e.CreateEntityType(ctx, eav.EntityTypeDefinition{Name: base.Name})
		assert.True(t, errors.Is(err, eav.ErrInvalidArgument))

		abstract, err := e.CreateEntityType(ctx, eav.EntityTypeDefinition{Name: uniq("Shape"), IsAbstract: true})
		require.NoError(t, err)
		_, err = e.Create(ctx, abstract.ID, nil, eav.CreateOptions{})
		assert.True(t, errors.Is(err, eav.ErrInvalidArgument))

		_, err = e.Create(ctx, base.ID, map[string]any{"nope": 1}, eav.CreateOptions{})
		assert.True(t, errors.Is(err, eav.ErrNotFound))

		_, err = e.GetWithValues(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
		assert.True(t, errors.Is(err, eav.ErrNotFound))
	})

	t.Run("caller deadline becomes timeout", func(t *testing.T) {
		tp := mustType(t, e, "Slow", "")
		dctx, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
		defer cancel()
		_, err := e.Search(dctx, tp.ID, eav.SearchRequest{})
		assert.True(t, errors.Is(err, eav.ErrTimeout), "got %v", err)
	})
}

func TestSchemaChangesFromAnotherEngine(t *testing.T) {
	db := pgtest.Start(t)
	ctx := context.Background()
	admin := eav.New(db, zaptest.NewLogger(t).Sugar(), eav.Options{})
	server := eav.New(db, zaptest.NewLogger(t).Sugar(), eav.Options{})

	tp := mustType(t, admin, "Member", "")
	title := mustAttr(t, admin, tp.ID, eav.AttributeDefinition{Name: "title", DataType: eav.TypeText})

	ev, err := server.Create(ctx, tp.ID, map[string]any{"title": "a"}, eav.CreateOptions{})
	require.NoError(t, err)
	attrs, err := server.ResolveEffectiveAttributes(ctx, tp.ID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)

	mustAttr(t, admin, tp.ID, eav.AttributeDefinition{Name: "vip", DataType: eav.TypeBoolean, IsRequired: true})
	_, err = server.Create(ctx, tp.ID, map[string]any{"title": "b"}, eav.CreateOptions{})
	assert.True(t, errors.Is(err, eav.ErrRequiredField), "server must see the new required attribute: %v", err)
	_, err = server.Create(ctx, tp.ID, map[string]any{"title": "b", "vip": true}, eav.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, admin.DeleteAttribute(ctx, title.ID, true))
	_, err = server.SetValue(ctx, ev.Entity.ID, "title", "c")
	assert.True(t, errors.Is(err, eav.ErrNotFound), "deleted attribute must not accept values: %v", err)
}
