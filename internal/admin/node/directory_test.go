package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	store := db.NewTestStore(t)
	return NewDirectory(store, logger.NewDevelopment("test"))
}

func validParams(name string) RegisterParams {
	return RegisterParams{
		Name:     name,
		ApiUrl:   "http://10.0.0.1:2053",
		Domain:   name + ".example.com",
		Username: "admin",
		Password: "secret",
		Enabled:  true,
	}
}

func TestRegisterAndGet(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	node, err := dir.Register(ctx, validParams("fra-1"))
	require.NoError(t, err)
	assert.NotZero(t, node.ID)

	got, err := dir.Get(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "fra-1", got.Name)

	byName, err := dir.GetByName(ctx, "fra-1")
	require.NoError(t, err)
	assert.Equal(t, node.ID, byName.ID)
}

func TestRegisterValidation(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*RegisterParams)
	}{
		{"empty name", func(p *RegisterParams) { p.Name = " " }},
		{"bad api url", func(p *RegisterParams) { p.ApiUrl = "not-a-url" }},
		{"missing scheme", func(p *RegisterParams) { p.ApiUrl = "10.0.0.1:2053" }},
		{"empty domain", func(p *RegisterParams) { p.Domain = "" }},
		{"missing credentials", func(p *RegisterParams) { p.Password = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams("fra-1")
			tt.mutate(&params)
			_, err := dir.Register(ctx, params)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	_, err := dir.Register(ctx, validParams("fra-1"))
	require.NoError(t, err)

	_, err = dir.Register(ctx, validParams("fra-1"))
	assert.ErrorIs(t, err, errors.ErrDuplicateNode)
}

func TestRegisterStripsTrailingSlash(t *testing.T) {
	dir := newTestDirectory(t)

	params := validParams("fra-1")
	params.ApiUrl = "http://10.0.0.1:2053/"
	node, err := dir.Register(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:2053", node.ApiUrl)
}

func TestGetNotFound(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	_, err := dir.Get(ctx, 9999)
	assert.ErrorIs(t, err, errors.ErrNodeNotFound)

	_, err = dir.GetByName(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNodeNotFound)
}

func TestListEnabledExcludesDisabled(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	a, err := dir.Register(ctx, validParams("ams-1"))
	require.NoError(t, err)
	b, err := dir.Register(ctx, validParams("fra-1"))
	require.NoError(t, err)

	require.NoError(t, dir.SetEnabled(ctx, a.ID, false))

	nodes, err := dir.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, b.ID, nodes[0].ID)

	all, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateAndDelete(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	node, err := dir.Register(ctx, validParams("fra-1"))
	require.NoError(t, err)

	params := validParams("fra-1")
	params.Domain = "new.example.com"
	updated, err := dir.Update(ctx, node.ID, params)
	require.NoError(t, err)
	assert.Equal(t, "new.example.com", updated.Domain)

	require.NoError(t, dir.Delete(ctx, node.ID))
	err = dir.Delete(ctx, node.ID)
	assert.ErrorIs(t, err, errors.ErrNodeNotFound)
}
