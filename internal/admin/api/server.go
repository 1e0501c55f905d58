// Package api exposes the administrative HTTP surface: node and client
// CRUD, sync fan-out triggers, manual key management and the
// spreadsheet import hook.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/admin/keystore"
	"github.com/gorillaerror/xui-central/internal/admin/metrics"
	"github.com/gorillaerror/xui-central/internal/admin/node"
	"github.com/gorillaerror/xui-central/internal/admin/sync"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
	"github.com/gorillaerror/xui-central/internal/shared/middleware"
	"github.com/gorillaerror/xui-central/pkg/api"
)

// Importer runs a spreadsheet import. Implemented by the sheets package.
type Importer interface {
	Import(ctx context.Context, dryRun bool) (*api.ImportReport, error)
}

// ServerConfig configures the admin API server.
type ServerConfig struct {
	Address     string   `mapstructure:"address"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// SubscriptionURL is the public base of the subscription service,
	// used to render subscription links for clients.
	SubscriptionURL string `mapstructure:"-"`
	Version         string `mapstructure:"-"`
}

// Server is the admin HTTP server.
type Server struct {
	server   *http.Server
	store    db.Store
	nodes    *node.Directory
	keys     *keystore.Keystore
	coord    *sync.Coordinator
	importer Importer
	metrics  *metrics.Metrics
	log      *logger.Logger
	config   ServerConfig
}

// NewServer creates the admin API server. importer may be nil when no
// spreadsheet source is configured.
func NewServer(
	config ServerConfig,
	store db.Store,
	nodes *node.Directory,
	keys *keystore.Keystore,
	coord *sync.Coordinator,
	importer Importer,
	m *metrics.Metrics,
	log *logger.Logger,
) *Server {
	return &Server{
		store:    store,
		nodes:    nodes,
		keys:     keys,
		coord:    coord,
		importer: importer,
		metrics:  m,
		log:      log.WithComponent("admin-api"),
		config:   config,
		server: &http.Server{
			Addr:         config.Address,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving requests.
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.Routes()
	s.log.InfoContext(ctx, "starting admin API server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("admin api server failed: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Routes builds the full handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/v1/nodes", s.handleListNodes)
	mux.HandleFunc("POST /api/v1/nodes", s.handleCreateNode)
	mux.HandleFunc("GET /api/v1/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("PUT /api/v1/nodes/{id}", s.handleUpdateNode)
	mux.HandleFunc("DELETE /api/v1/nodes/{id}", s.handleDeleteNode)
	mux.HandleFunc("POST /api/v1/nodes/{id}/enable", s.handleSetNodeEnabled)
	mux.HandleFunc("POST /api/v1/nodes/{id}/resync", s.handleResyncNode)
	mux.HandleFunc("POST /api/v1/nodes/{id}/purge", s.handlePurgeNode)

	mux.HandleFunc("GET /api/v1/clients", s.handleListClients)
	mux.HandleFunc("POST /api/v1/clients", s.handleCreateClient)
	mux.HandleFunc("GET /api/v1/clients/{email}", s.handleGetClient)
	mux.HandleFunc("DELETE /api/v1/clients/{email}", s.handleDeleteClient)
	mux.HandleFunc("POST /api/v1/clients/{email}/enable", s.handleSetClientEnabled)
	mux.HandleFunc("GET /api/v1/clients/{email}/subscription", s.handleClientSubscriptionLink)
	mux.HandleFunc("GET /api/v1/clients/{email}/keys", s.handleListClientKeys)
	mux.HandleFunc("POST /api/v1/clients/{email}/keys", s.handleCreateManualKey)
	mux.HandleFunc("DELETE /api/v1/keys/{id}", s.handleDeleteKey)

	mux.HandleFunc("POST /api/v1/import", s.handleImport)

	return middleware.Chain(
		middleware.RequestID(s.log),
		middleware.Recovery(),
		middleware.Logging(),
		middleware.CORS(s.config.CORSOrigins),
	)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		WriteError(w, r, fmt.Errorf("database unreachable: %w", err))
		return
	}
	_ = WriteSuccess(w, api.HealthResponse{Status: "healthy", Version: s.config.Version})
}

// Node handlers

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.nodes.List(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	infos := make([]api.NodeInfo, len(nodes))
	for i, n := range nodes {
		infos[i] = toNodeInfo(n)
	}
	_ = WriteSuccess(w, infos)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req api.CreateNodeRequest
	if err := ParseJSONRequest(r, &req); err != nil {
		WriteError(w, r, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	n, err := s.nodes.Register(r.Context(), node.RegisterParams{
		Name:     req.Name,
		ApiUrl:   req.ApiUrl,
		Domain:   req.Domain,
		Username: req.Username,
		Password: req.Password,
		Enabled:  enabled,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toNodeInfo(n))
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	n, err := s.nodes.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toNodeInfo(n))
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req api.UpdateNodeRequest
	if err := ParseJSONRequest(r, &req); err != nil {
		WriteError(w, r, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
		return
	}

	n, err := s.nodes.Update(r.Context(), id, node.RegisterParams{
		Name:     req.Name,
		ApiUrl:   req.ApiUrl,
		Domain:   req.Domain,
		Username: req.Username,
		Password: req.Password,
		Enabled:  req.Enabled,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toNodeInfo(n))
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.nodes.Delete(r.Context(), id); err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetNodeEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req api.SetEnabledRequest
	if err := ParseJSONRequest(r, &req); err != nil {
		WriteError(w, r, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
		return
	}
	if err := s.nodes.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleResyncNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	report, err := s.coord.ResyncNode(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toResyncReport(report))
}

func (s *Server) handlePurgeNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.coord.PurgeNode(r.Context(), id); err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, map[string]string{"status": "purged"})
}

// Client handlers

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.store.ListClients(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	infos := make([]api.ClientInfo, len(clients))
	for i, c := range clients {
		infos[i] = toClientInfo(c)
	}
	_ = WriteSuccess(w, infos)
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req api.CreateClientRequest
	if err := ParseJSONRequest(r, &req); err != nil {
		WriteError(w, r, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
		return
	}

	client, report, err := s.coord.CreateClient(r.Context(), req.Email, req.TelegramID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, api.CreateClientResponse{
		Client: toClientInfo(client),
		Report: toSyncReport(report),
	})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.getClient(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toClientInfo(client))
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	report, err := s.coord.DeleteClient(r.Context(), r.PathValue("email"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toSyncReport(report))
}

func (s *Server) handleSetClientEnabled(w http.ResponseWriter, r *http.Request) {
	var req api.SetEnabledRequest
	if err := ParseJSONRequest(r, &req); err != nil {
		WriteError(w, r, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
		return
	}
	report, err := s.coord.SetClientEnabled(r.Context(), r.PathValue("email"), req.Enabled)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toSyncReport(report))
}

func (s *Server) handleClientSubscriptionLink(w http.ResponseWriter, r *http.Request) {
	client, err := s.getClient(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	base := strings.TrimRight(s.config.SubscriptionURL, "/")
	_ = WriteSuccess(w, api.SubscriptionLink{
		SubUrl: fmt.Sprintf("%s/sub/%s", base, url.PathEscape(client.Email)),
	})
}

func (s *Server) handleListClientKeys(w http.ResponseWriter, r *http.Request) {
	client, err := s.getClient(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	keys, err := s.keys.ListForClient(r.Context(), client.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	infos := make([]api.KeyInfo, len(keys))
	for i, k := range keys {
		infos[i] = toKeyInfo(k)
	}
	_ = WriteSuccess(w, infos)
}

func (s *Server) handleCreateManualKey(w http.ResponseWriter, r *http.Request) {
	client, err := s.getClient(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req api.CreateManualKeyRequest
	if err := ParseJSONRequest(r, &req); err != nil {
		WriteError(w, r, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
		return
	}
	if req.Uuid == "" || req.VlessUrl == "" {
		WriteError(w, r, fmt.Errorf("%w: uuid and vless_url are required", errors.ErrInvalidConfig))
		return
	}
	// The node must exist; manual keys still hang off real nodes.
	if _, err := s.nodes.Get(r.Context(), req.NodeID); err != nil {
		WriteError(w, r, err)
		return
	}

	key, err := s.keys.Record(r.Context(), keystore.RecordParams{
		ClientID:  client.ID,
		NodeID:    req.NodeID,
		InboundID: req.InboundID,
		Uuid:      req.Uuid,
		VlessUrl:  req.VlessUrl,
		Manual:    true,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, toKeyInfo(key))
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.keys.DeleteByID(r.Context(), id); err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		WriteError(w, r, fmt.Errorf("%w: no import source configured", errors.ErrInvalidConfig))
		return
	}
	var req api.ImportRequest
	if err := ParseJSONRequest(r, &req); err != nil {
		WriteError(w, r, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
		return
	}
	report, err := s.importer.Import(r.Context(), req.DryRun)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	_ = WriteSuccess(w, report)
}

// Helpers

func (s *Server) getClient(r *http.Request) (db.Client, error) {
	email := r.PathValue("email")
	client, err := s.store.GetClientByEmail(r.Context(), email)
	if err != nil {
		return db.Client{}, fmt.Errorf("%w: %s", errors.ErrClientNotFound, email)
	}
	return client, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be numeric", errors.ErrInvalidConfig, name)
	}
	return id, nil
}

func toNodeInfo(n db.Node) api.NodeInfo {
	return api.NodeInfo{
		ID:        n.ID,
		Name:      n.Name,
		ApiUrl:    n.ApiUrl,
		Domain:    n.Domain,
		Enabled:   n.Enabled,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toClientInfo(c db.Client) api.ClientInfo {
	info := api.ClientInfo{
		ID:        c.ID,
		Email:     c.Email,
		Enabled:   c.Enabled,
		CreatedAt: c.CreatedAt,
	}
	if c.TelegramID.Valid {
		tgID := c.TelegramID.Int64
		info.TelegramID = &tgID
	}
	return info
}

func toKeyInfo(k db.Key) api.KeyInfo {
	return api.KeyInfo{
		ID:        k.ID,
		NodeID:    k.NodeID,
		InboundID: k.InboundID,
		Uuid:      k.Uuid,
		VlessUrl:  k.VlessUrl,
		Manual:    k.Manual,
	}
}

func toSyncReport(r *sync.Report) api.SyncReport {
	nodes := make([]api.NodeResult, len(r.Nodes))
	for i, n := range r.Nodes {
		nodes[i] = api.NodeResult{
			NodeID:   n.NodeID,
			NodeName: n.NodeName,
			OK:       n.OK,
			Keys:     n.Keys,
			Kind:     string(n.Kind),
			Error:    n.Error,
		}
		if n.OK {
			nodes[i].Kind = ""
		}
	}
	return api.SyncReport{
		Operation: r.Operation,
		Status:    string(r.Status),
		Nodes:     nodes,
	}
}

func toResyncReport(r *sync.ResyncReport) api.ResyncReport {
	clients := make([]api.ClientResult, len(r.Clients))
	for i, c := range r.Clients {
		clients[i] = api.ClientResult{
			Email: c.Email,
			OK:    c.OK,
			Keys:  c.Keys,
			Error: c.Error,
		}
	}
	return api.ResyncReport{
		NodeID:   r.NodeID,
		NodeName: r.NodeName,
		Status:   string(r.Status),
		Clients:  clients,
	}
}
