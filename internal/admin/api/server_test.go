package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
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
	"github.com/gorillaerror/xui-central/internal/admin/sync"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
	"github.com/gorillaerror/xui-central/pkg/api"
)

// stubConnector answers every panel call with one inbound and canned URLs.
type stubConnector struct{}

func (stubConnector) ListInbounds(ctx context.Context, n db.Node) ([]panel.Inbound, error) {
	return []panel.Inbound{{ID: 1, Protocol: "vless"}}, nil
}

func (stubConnector) UpsertClient(ctx context.Context, n db.Node, inboundID int64, entry panel.ClientEntry) (string, error) {
	return panel.VlessURL(n, entry.Uuid, entry.Email), nil
}

func (stubConnector) RemoveClient(ctx context.Context, n db.Node, inboundID int64, email string) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, db.Store) {
	t.Helper()
	log := logger.NewDevelopment("test")
	store := db.NewTestStore(t)
	dir := node.NewDirectory(store, log)
	keys := keystore.New(store, log)
	bus := events.NewBus(log)
	t.Cleanup(func() { bus.Close() })

	coord := sync.NewCoordinator(store, dir, keys, stubConnector{}, bus, metrics.New(), sync.Config{
		NodeTimeout:        time.Second,
		MaxConcurrentNodes: 2,
	}, log)

	srv := NewServer(ServerConfig{
		Version:         "test",
		SubscriptionURL: "https://sub.example.com",
	}, store, dir, keys, coord, nil, metrics.New(), log)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var envelope api.Response[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func TestNodeLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/nodes", `{
		"name": "fra-1",
		"api_url": "http://10.0.0.1:2053",
		"domain": "fra-1.example.com",
		"username": "admin",
		"password": "secret"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decodeData[api.NodeInfo](t, resp)
	assert.Equal(t, "fra-1", created.Name)
	assert.True(t, created.Enabled)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/nodes", "")
	nodes := decodeData[[]api.NodeInfo](t, resp)
	require.Len(t, nodes, 1)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/nodes/1/enable", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/nodes/1", "")
	got := decodeData[api.NodeInfo](t, resp)
	assert.False(t, got.Enabled)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/nodes/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/nodes/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateClientReturnsReport(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/nodes", `{
		"name": "fra-1",
		"api_url": "http://10.0.0.1:2053",
		"domain": "fra-1.example.com",
		"username": "admin",
		"password": "secret"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/clients", `{"email": "alice@example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decodeData[api.CreateClientResponse](t, resp)
	assert.Equal(t, "alice@example.com", created.Client.Email)
	assert.Equal(t, "full-success", created.Report.Status)
	require.Len(t, created.Report.Nodes, 1)
	assert.Equal(t, 1, created.Report.Nodes[0].Keys)

	// Duplicate email conflicts.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/clients", `{"email": "alice@example.com"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/clients/alice@example.com/keys", "")
	keys := decodeData[[]api.KeyInfo](t, resp)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].Manual)
}

func TestManualKeyEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/nodes", `{
		"name": "fra-1",
		"api_url": "http://10.0.0.1:2053",
		"domain": "fra-1.example.com",
		"username": "admin",
		"password": "secret"
	}`)
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/clients", `{"email": "alice@example.com"}`)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/clients/alice@example.com/keys", `{
		"node_id": 1,
		"inbound_id": 7,
		"uuid": "manual-uuid",
		"vless_url": "vless://manual"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	key := decodeData[api.KeyInfo](t, resp)
	assert.True(t, key.Manual)

	keyPath := ts.URL + "/api/v1/keys/" + strconv.FormatInt(key.ID, 10)
	resp = doJSON(t, http.MethodDelete, keyPath, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, keyPath, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSubscriptionLink(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/clients", `{"email": "alice@example.com"}`)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/clients/alice@example.com/subscription", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	link := decodeData[api.SubscriptionLink](t, resp)
	assert.Equal(t, "https://sub.example.com/sub/alice@example.com", link.SubUrl)
}

func TestClientNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/clients/ghost@example.com", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	defer resp.Body.Close()
	var envelope api.Response[any]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.False(t, envelope.Success)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "not_found", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.RequestID)
}

func TestImportWithoutSourceConfigured(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/import", `{"dry_run": true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeData[api.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
}
