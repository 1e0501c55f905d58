package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/admin/events"
	"github.com/gorillaerror/xui-central/internal/admin/keystore"
	"github.com/gorillaerror/xui-central/internal/admin/metrics"
	"github.com/gorillaerror/xui-central/internal/admin/node"
	"github.com/gorillaerror/xui-central/internal/admin/panel"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

type upsertCall struct {
	nodeID    int64
	inboundID int64
	entry     panel.ClientEntry
}

type removeCall struct {
	nodeID    int64
	inboundID int64
	email     string
}

// fakeConnector is an in-memory panel.Connector recording every call.
type fakeConnector struct {
	mu             gosync.Mutex
	inboundsByNode map[int64][]panel.Inbound
	failNodes      map[int64]error
	upserts        []upsertCall
	removes        []removeCall
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		inboundsByNode: make(map[int64][]panel.Inbound),
		failNodes:      make(map[int64]error),
	}
}

func (f *fakeConnector) ListInbounds(ctx context.Context, n db.Node) ([]panel.Inbound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failNodes[n.ID]; ok {
		return nil, err
	}
	return f.inboundsByNode[n.ID], nil
}

func (f *fakeConnector) UpsertClient(ctx context.Context, n db.Node, inboundID int64, entry panel.ClientEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failNodes[n.ID]; ok {
		return "", err
	}
	f.upserts = append(f.upserts, upsertCall{nodeID: n.ID, inboundID: inboundID, entry: entry})
	return panel.VlessURL(n, entry.Uuid, entry.Email), nil
}

func (f *fakeConnector) RemoveClient(ctx context.Context, n db.Node, inboundID int64, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failNodes[n.ID]; ok {
		return err
	}
	f.removes = append(f.removes, removeCall{nodeID: n.ID, inboundID: inboundID, email: email})
	return nil
}

func (f *fakeConnector) failNode(n db.Node, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNodes[n.ID] = err
}

func (f *fakeConnector) upsertCalls() []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsertCall(nil), f.upserts...)
}

func (f *fakeConnector) removeCalls() []removeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]removeCall(nil), f.removes...)
}

type harness struct {
	store db.Store
	dir   *node.Directory
	keys  *keystore.Keystore
	conn  *fakeConnector
	coord *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewDevelopment("test")
	store := db.NewTestStore(t)
	dir := node.NewDirectory(store, log)
	keys := keystore.New(store, log)
	conn := newFakeConnector()
	bus := events.NewBus(log)
	t.Cleanup(func() { bus.Close() })

	coord := NewCoordinator(store, dir, keys, conn, bus, metrics.New(), Config{
		NodeTimeout:        5 * time.Second,
		MaxConcurrentNodes: 4,
	}, log)

	return &harness{store: store, dir: dir, keys: keys, conn: conn, coord: coord}
}

func (h *harness) addNode(t *testing.T, name string, inboundIDs ...int64) db.Node {
	t.Helper()
	n, err := h.dir.Register(context.Background(), node.RegisterParams{
		Name:     name,
		ApiUrl:   "http://10.0.0.1:2053",
		Domain:   name + ".example.com",
		Username: "admin",
		Password: "secret",
		Enabled:  true,
	})
	require.NoError(t, err)

	inbounds := make([]panel.Inbound, 0, len(inboundIDs))
	for _, id := range inboundIDs {
		inbounds = append(inbounds, panel.Inbound{ID: id, Protocol: "vless"})
	}
	h.conn.mu.Lock()
	h.conn.inboundsByNode[n.ID] = inbounds
	h.conn.mu.Unlock()
	return n
}

func TestCreateClientFullSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "ams-1", 1, 2)
	n2 := h.addNode(t, "fra-1", 1)

	client, report, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFullSuccess, report.Status)
	require.Len(t, report.Nodes, 2)
	assert.Equal(t, n1.ID, report.Nodes[0].NodeID)
	assert.Equal(t, 2, report.Nodes[0].Keys)
	assert.Equal(t, n2.ID, report.Nodes[1].NodeID)
	assert.Equal(t, 1, report.Nodes[1].Keys)

	// One key per (node, inbound), all sharing one uuid.
	keys, err := h.keys.ListForClient(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	sharedUuid := keys[0].Uuid
	for _, key := range keys {
		assert.Equal(t, sharedUuid, key.Uuid)
		assert.False(t, key.Manual)
		assert.Contains(t, key.VlessUrl, sharedUuid)
	}
}

func TestCreateClientDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addNode(t, "fra-1", 1)

	_, _, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	_, _, err = h.coord.CreateClient(ctx, "alice@example.com", nil)
	assert.ErrorIs(t, err, errors.ErrDuplicateClient)
}

func TestCreateClientPartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "ams-1", 1)
	n2 := h.addNode(t, "fra-1", 1)
	h.addNode(t, "hel-1", 1)

	h.conn.failNode(n2, errors.NewRemoteTransportError(n2.ID, n2.Name, "connection refused", nil))

	client, report, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPartialSuccess, report.Status)

	failed := report.FailedNodes()
	require.Len(t, failed, 1)
	assert.Equal(t, n2.ID, failed[0].NodeID)
	assert.Equal(t, errors.RemoteTransport, failed[0].Kind)
	assert.Contains(t, failed[0].Error, "connection refused")

	// Reachable nodes have keys, the dead one has none.
	keys, err := h.keys.ListForClient(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, n1.ID, keys[0].NodeID)
	assert.NotEqual(t, n2.ID, keys[1].NodeID)
}

func TestCreateClientAllNodesFail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "fra-1", 1)
	h.conn.failNode(n1, errors.NewRemoteAuthError(n1.ID, n1.Name, "bad credentials", nil))

	_, report, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, errors.RemoteAuth, report.Nodes[0].Kind)
}

func TestCreateClientSkipsDisabledNodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addNode(t, "ams-1", 1)
	disabled := h.addNode(t, "fra-1", 1)
	require.NoError(t, h.dir.SetEnabled(ctx, disabled.ID, false))

	_, report, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)
	require.Len(t, report.Nodes, 1)
	assert.NotEqual(t, disabled.ID, report.Nodes[0].NodeID)
}

func TestSetClientEnabledTogglesOnlyAutoKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "fra-1", 1)
	client, _, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	// Operator-recorded exemption on a second inbound.
	manualKey, err := h.keys.Record(ctx, keystore.RecordParams{
		ClientID:  client.ID,
		NodeID:    n1.ID,
		InboundID: 7,
		Uuid:      "manual-uuid",
		VlessUrl:  "vless://manual",
		Manual:    true,
	})
	require.NoError(t, err)

	h.conn.mu.Lock()
	h.conn.upserts = nil
	h.conn.mu.Unlock()

	report, err := h.coord.SetClientEnabled(ctx, "alice@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, StatusFullSuccess, report.Status)

	calls := h.conn.upsertCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(1), calls[0].inboundID)
	assert.False(t, calls[0].entry.Enabled)

	// Manual key untouched.
	got, err := h.keys.Get(ctx, manualKey.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual-uuid", got.Uuid)
	assert.Equal(t, "vless://manual", got.VlessUrl)
	assert.True(t, got.Manual)

	// Local flag flipped.
	stored, err := h.store.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
}

func TestSetClientEnabledNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.SetClientEnabled(context.Background(), "ghost@example.com", true)
	assert.ErrorIs(t, err, errors.ErrClientNotFound)
}

func TestDeleteClientRemovesLocallyDespiteRemoteFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addNode(t, "ams-1", 1)
	n2 := h.addNode(t, "fra-1", 1)

	client, _, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	h.conn.failNode(n2, errors.NewRemoteTransportError(n2.ID, n2.Name, "timeout", nil))

	report, err := h.coord.DeleteClient(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusPartialSuccess, report.Status)
	require.Len(t, report.FailedNodes(), 1)
	assert.Equal(t, n2.ID, report.FailedNodes()[0].NodeID)

	// Row and keys are gone even though one node could not be reached.
	_, err = h.store.GetClientByEmail(ctx, "alice@example.com")
	require.Error(t, err)
	count, err := h.store.CountKeysForClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteClientRemovesManualKeysRemotely(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "fra-1", 1)
	client, _, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	_, err = h.keys.Record(ctx, keystore.RecordParams{
		ClientID:  client.ID,
		NodeID:    n1.ID,
		InboundID: 7,
		Uuid:      "manual-uuid",
		VlessUrl:  "vless://manual",
		Manual:    true,
	})
	require.NoError(t, err)

	_, err = h.coord.DeleteClient(ctx, "alice@example.com")
	require.NoError(t, err)

	// Hard deletion targets manual keys too.
	removes := h.conn.removeCalls()
	require.Len(t, removes, 2)
	inbounds := []int64{removes[0].inboundID, removes[1].inboundID}
	assert.ElementsMatch(t, []int64{1, 7}, inbounds)
}

func TestResyncNodeSkipsManualKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "ams-1", 1)
	client, _, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	// New node joins the fleet.
	n2 := h.addNode(t, "fra-1", 1, 2)

	// The operator already placed a manual key on inbound 2 of the new node.
	manualKey, err := h.keys.Record(ctx, keystore.RecordParams{
		ClientID:  client.ID,
		NodeID:    n2.ID,
		InboundID: 2,
		Uuid:      "manual-uuid",
		VlessUrl:  "vless://manual",
		Manual:    true,
	})
	require.NoError(t, err)

	h.conn.mu.Lock()
	h.conn.upserts = nil
	h.conn.mu.Unlock()

	report, err := h.coord.ResyncNode(ctx, n2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFullSuccess, report.Status)
	require.Len(t, report.Clients, 1)
	assert.Equal(t, "alice@example.com", report.Clients[0].Email)
	assert.Equal(t, 1, report.Clients[0].Keys)

	// Only inbound 1 was pushed, the manual exemption was honored.
	calls := h.conn.upsertCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(1), calls[0].inboundID)

	got, err := h.keys.Get(ctx, manualKey.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual-uuid", got.Uuid)

	// The resynced key reuses the uuid already recorded on the first node.
	existing, err := h.keys.ListAutoForClientOnNode(ctx, client.ID, n1.ID)
	require.NoError(t, err)
	synced, err := h.keys.ListAutoForClientOnNode(ctx, client.ID, n2.ID)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, existing[0].Uuid, synced[0].Uuid)
}

func TestResyncNodeDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n := h.addNode(t, "fra-1", 1)
	require.NoError(t, h.dir.SetEnabled(ctx, n.ID, false))

	_, err := h.coord.ResyncNode(ctx, n.ID)
	assert.ErrorIs(t, err, errors.ErrNodeDisabled)
}

func TestResyncNodeNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.ResyncNode(context.Background(), 9999)
	assert.ErrorIs(t, err, errors.ErrNodeNotFound)
}

func TestPurgeNodeKeepsManualKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "fra-1", 1)
	client, _, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	_, err = h.keys.Record(ctx, keystore.RecordParams{
		ClientID:  client.ID,
		NodeID:    n1.ID,
		InboundID: 7,
		Uuid:      "manual-uuid",
		VlessUrl:  "vless://manual",
		Manual:    true,
	})
	require.NoError(t, err)

	require.NoError(t, h.coord.PurgeNode(ctx, n1.ID))

	keys, err := h.keys.ListForClient(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Manual)

	// No remote calls, purge is a local bookkeeping operation.
	assert.Empty(t, h.conn.removeCalls())
}

func TestCreateIsIdempotentPerNode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n1 := h.addNode(t, "ams-1", 1)
	h.addNode(t, "fra-1", 1)
	client, _, err := h.coord.CreateClient(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	keysBefore, err := h.keys.ListForClient(ctx, client.ID)
	require.NoError(t, err)

	// Re-running the failed-node path via resync does not duplicate rows.
	_, err = h.coord.ResyncNode(ctx, n1.ID)
	require.NoError(t, err)

	keysAfter, err := h.keys.ListForClient(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, keysAfter, len(keysBefore))
	assert.Equal(t, keysBefore[0].Uuid, keysAfter[0].Uuid)
}
