package dsl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"eavkit/internal/dsl"
	"eavkit/internal/eav"
	"eavkit/internal/pg/pgtest"
	"eavkit/internal/reference"
)

func TestSeedPostgres(t *testing.T) {
	db := pgtest.Start(t)
	logger := zaptest.NewLogger(t).Sugar()
	eng := eav.New(db, logger, eav.DefaultOptions())
	ctx := context.Background()

	types, err := dsl.LoadDir("testdata/schema")
	require.NoError(t, err)
	cat, err := reference.LoadEnumCatalog("testdata/enums")
	require.NoError(t, err)

	rep, err := dsl.Seed(ctx, eng, types, cat, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.TypesCreated)
	assert.Equal(t, 7, rep.AttributesCreated)

	rep, err = dsl.Seed(ctx, eng, types, cat, logger)
	require.NoError(t, err)
	assert.Zero(t, rep.TypesCreated+rep.GroupsCreated+rep.AttributesCreated)

	customer, err := eng.GetEntityTypeByName(ctx, "Customer")
	require.NoError(t, err)
	created, err := eng.Create(ctx, customer.ID, map[string]any{"email": "a@example.com", "level": "gold"}, eav.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "CUS-00001", created.Values["code"].Value.Raw())
	assert.Equal(t, 1000.0, created.Values["credit_limit"].Value.Raw())
}
