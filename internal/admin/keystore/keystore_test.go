package keystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

type fixture struct {
	store  db.Store
	ks     *Keystore
	client db.Client
	nodeA  db.Node
	nodeB  db.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewTestStore(t)
	ctx := context.Background()

	client, err := store.CreateClient(ctx, db.CreateClientParams{Email: "alice@example.com", Enabled: true})
	require.NoError(t, err)

	nodeA, err := store.CreateNode(ctx, db.CreateNodeParams{
		Name: "ams-1", ApiUrl: "http://10.0.0.1:2053", Domain: "ams-1.example.com",
		Username: "admin", Password: "secret", Enabled: true,
	})
	require.NoError(t, err)
	nodeB, err := store.CreateNode(ctx, db.CreateNodeParams{
		Name: "fra-1", ApiUrl: "http://10.0.0.2:2053", Domain: "fra-1.example.com",
		Username: "admin", Password: "secret", Enabled: true,
	})
	require.NoError(t, err)

	return &fixture{
		store:  store,
		ks:     New(store, logger.NewDevelopment("test")),
		client: client,
		nodeA:  nodeA,
		nodeB:  nodeB,
	}
}

func (f *fixture) record(t *testing.T, nodeID, inboundID int64, uuid string, manual bool) db.Key {
	t.Helper()
	key, err := f.ks.Record(context.Background(), RecordParams{
		ClientID:  f.client.ID,
		NodeID:    nodeID,
		InboundID: inboundID,
		Uuid:      uuid,
		VlessUrl:  "vless://" + uuid,
		Manual:    manual,
	})
	require.NoError(t, err)
	return key
}

func TestRecordReplacesOnSameTriple(t *testing.T) {
	f := newFixture(t)

	first := f.record(t, f.nodeA.ID, 1, "uuid-old", false)
	second := f.record(t, f.nodeA.ID, 1, "uuid-new", false)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "uuid-new", second.Uuid)
}

func TestSharedUuidPrefersLowestNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	uuid, err := f.ks.SharedUuid(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Empty(t, uuid)

	f.record(t, f.nodeB.ID, 1, "uuid-b", false)
	f.record(t, f.nodeA.ID, 1, "uuid-a", false)

	uuid, err = f.ks.SharedUuid(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, "uuid-a", uuid)
}

func TestSharedUuidIgnoresManualKeys(t *testing.T) {
	f := newFixture(t)

	f.record(t, f.nodeA.ID, 1, "uuid-manual", true)

	uuid, err := f.ks.SharedUuid(context.Background(), f.client.ID)
	require.NoError(t, err)
	assert.Empty(t, uuid)
}

func TestPurgeAutoForNodeKeepsManual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.record(t, f.nodeA.ID, 1, "uuid-auto", false)
	f.record(t, f.nodeA.ID, 2, "uuid-manual", true)
	f.record(t, f.nodeB.ID, 1, "uuid-other", false)

	require.NoError(t, f.ks.PurgeAutoForNode(ctx, f.nodeA.ID))

	keys, err := f.ks.ListForClient(ctx, f.client.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "uuid-manual", keys[0].Uuid)
	assert.Equal(t, "uuid-other", keys[1].Uuid)
}

func TestDeleteMissingKeyIsNoError(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.ks.Delete(context.Background(), f.client.ID, f.nodeA.ID, 42))
}

func TestDeleteByIDNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.ks.DeleteByID(context.Background(), 9999)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestDeleteAllForClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.record(t, f.nodeA.ID, 1, "uuid-auto", false)
	f.record(t, f.nodeB.ID, 1, "uuid-manual", true)

	require.NoError(t, f.ks.DeleteAllForClient(ctx, f.client.ID))
	keys, err := f.ks.ListForClient(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestListAutoForClientOnNode(t *testing.T) {
	f := newFixture(t)

	f.record(t, f.nodeA.ID, 1, "uuid-a1", false)
	f.record(t, f.nodeA.ID, 2, "uuid-a2", true)
	f.record(t, f.nodeB.ID, 1, "uuid-b1", false)

	keys, err := f.ks.ListAutoForClientOnNode(context.Background(), f.client.ID, f.nodeA.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "uuid-a1", keys[0].Uuid)
}
