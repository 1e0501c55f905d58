package subscription

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/admin/metrics"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

func seedClientWithKeys(t *testing.T, store db.Store) db.Client {
	t.Helper()
	ctx := context.Background()

	client, err := store.CreateClient(ctx, db.CreateClientParams{Email: "alice@example.com", Enabled: true})
	require.NoError(t, err)

	n1, err := store.CreateNode(ctx, db.CreateNodeParams{
		Name: "ams-1", ApiUrl: "http://10.0.0.1:2053", Domain: "ams-1.example.com",
		Username: "admin", Password: "secret", Enabled: true,
	})
	require.NoError(t, err)
	n2, err := store.CreateNode(ctx, db.CreateNodeParams{
		Name: "fra-1", ApiUrl: "http://10.0.0.2:2053", Domain: "fra-1.example.com",
		Username: "admin", Password: "secret", Enabled: true,
	})
	require.NoError(t, err)

	// Insert out of order, assembly must sort by (node, inbound).
	_, err = store.UpsertKey(ctx, db.UpsertKeyParams{
		ClientID: client.ID, NodeID: n2.ID, InboundID: 1, Uuid: "u2", VlessUrl: "urlB",
	})
	require.NoError(t, err)
	_, err = store.UpsertKey(ctx, db.UpsertKeyParams{
		ClientID: client.ID, NodeID: n1.ID, InboundID: 1, Uuid: "u1", VlessUrl: "urlA",
	})
	require.NoError(t, err)

	return client
}

func TestAssembleOrdersAndEncodes(t *testing.T) {
	store := db.NewTestStore(t)
	seedClientWithKeys(t, store)
	assembler := NewAssembler(store, logger.NewDevelopment("test"))

	payload, err := assembler.Assemble(context.Background(), "alice@example.com")
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, "urlA\nurlB", string(decoded))
}

func TestAssembleIncludesManualKeys(t *testing.T) {
	store := db.NewTestStore(t)
	client := seedClientWithKeys(t, store)
	assembler := NewAssembler(store, logger.NewDevelopment("test"))

	_, err := store.UpsertKey(context.Background(), db.UpsertKeyParams{
		ClientID: client.ID, NodeID: 1, InboundID: 9, Uuid: "um", VlessUrl: "urlManual", Manual: true,
	})
	require.NoError(t, err)

	payload, err := assembler.Assemble(context.Background(), "alice@example.com")
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, "urlA\nurlManual\nurlB", string(decoded))
}

func TestAssembleUnknownClient(t *testing.T) {
	store := db.NewTestStore(t)
	assembler := NewAssembler(store, logger.NewDevelopment("test"))

	_, err := assembler.Assemble(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, errors.ErrClientNotFound)
}

func TestAssembleDisabledClientLooksAbsent(t *testing.T) {
	store := db.NewTestStore(t)
	client := seedClientWithKeys(t, store)
	require.NoError(t, store.SetClientEnabled(context.Background(), client.ID, false))

	assembler := NewAssembler(store, logger.NewDevelopment("test"))
	_, err := assembler.Assemble(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, errors.ErrClientNotFound)
}

func TestAssembleClientWithoutKeys(t *testing.T) {
	store := db.NewTestStore(t)
	_, err := store.CreateClient(context.Background(), db.CreateClientParams{
		Email: "empty@example.com", Enabled: true,
	})
	require.NoError(t, err)

	assembler := NewAssembler(store, logger.NewDevelopment("test"))
	_, err = assembler.Assemble(context.Background(), "empty@example.com")
	assert.ErrorIs(t, err, errors.ErrClientNotFound)
}

func TestSubscriptionEndpoint(t *testing.T) {
	store := db.NewTestStore(t)
	seedClientWithKeys(t, store)
	log := logger.NewDevelopment("test")

	srv := NewServer(ServerConfig{Version: "test"}, NewAssembler(store, log), metrics.New(), log)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/sub/alice@example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	require.NoError(t, err)
	assert.Equal(t, "urlA\nurlB", string(decoded))

	resp, err = http.Get(ts.URL + "/sub/ghost@example.com")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
