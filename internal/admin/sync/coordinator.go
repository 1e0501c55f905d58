// Package sync fans client lifecycle operations out to every enabled
// node and reconciles the per-node outcomes into the key ledger.
package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/admin/events"
	"github.com/gorillaerror/xui-central/internal/admin/keystore"
	"github.com/gorillaerror/xui-central/internal/admin/metrics"
	"github.com/gorillaerror/xui-central/internal/admin/node"
	"github.com/gorillaerror/xui-central/internal/admin/panel"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

// Config holds the fan-out knobs.
type Config struct {
	// NodeTimeout bounds one node's share of a fan-out. A node that
	// blows the timeout is reported failed, siblings keep running.
	NodeTimeout time.Duration `mapstructure:"node_timeout"`
	// MaxConcurrentNodes caps how many nodes are synced at once.
	MaxConcurrentNodes int `mapstructure:"max_concurrent_nodes"`
}

// DefaultConfig returns the fan-out defaults.
func DefaultConfig() Config {
	return Config{
		NodeTimeout:        30 * time.Second,
		MaxConcurrentNodes: 8,
	}
}

// Coordinator orchestrates lifecycle operations across the node fleet.
// There is no cross-node transaction; correctness rests on the panel
// primitives being idempotent, so a failed fan-out is safe to re-invoke.
type Coordinator struct {
	store   db.Store
	nodes   *node.Directory
	keys    *keystore.Keystore
	panel   panel.Connector
	bus     *events.Bus
	metrics *metrics.Metrics
	config  Config
	log     *logger.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	store db.Store,
	nodes *node.Directory,
	keys *keystore.Keystore,
	connector panel.Connector,
	bus *events.Bus,
	m *metrics.Metrics,
	config Config,
	log *logger.Logger,
) *Coordinator {
	if config.NodeTimeout <= 0 {
		config.NodeTimeout = DefaultConfig().NodeTimeout
	}
	if config.MaxConcurrentNodes <= 0 {
		config.MaxConcurrentNodes = DefaultConfig().MaxConcurrentNodes
	}
	return &Coordinator{
		store:   store,
		nodes:   nodes,
		keys:    keys,
		panel:   connector,
		bus:     bus,
		metrics: m,
		config:  config,
		log:     log.WithComponent("sync"),
	}
}

// CreateClient registers a client and pushes it onto every enabled node.
// One UUID is shared across all nodes so a single subscription credential
// works uniformly everywhere.
func (c *Coordinator) CreateClient(ctx context.Context, email string, telegramID *int64) (db.Client, *Report, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return db.Client{}, nil, fmt.Errorf("%w: email is required", errors.ErrInvalidConfig)
	}

	var tgID sql.NullInt64
	if telegramID != nil {
		tgID = sql.NullInt64{Int64: *telegramID, Valid: true}
	}

	client, err := c.store.CreateClient(ctx, db.CreateClientParams{
		Email:      email,
		Enabled:    true,
		TelegramID: tgID,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return db.Client{}, nil, fmt.Errorf("%w: %s", errors.ErrDuplicateClient, email)
		}
		return db.Client{}, nil, fmt.Errorf("failed to create client: %w", err)
	}

	nodes, err := c.nodes.ListEnabled(ctx)
	if err != nil {
		return db.Client{}, nil, err
	}

	sharedUuid := uuid.New().String()
	ctx = logger.WithOperation(logger.WithClientEmail(ctx, email), "create")

	report := c.fanOut(ctx, "create", nodes, func(taskCtx context.Context, n db.Node) (int, error) {
		return c.syncClientToNode(taskCtx, n, client, sharedUuid, true)
	})

	c.bus.Publish(ctx, events.ClientEvent(events.ClientCreated, email, string(report.Status)))
	c.log.InfoContext(ctx, "client created", "email", email, "status", report.Status)
	return client, report, nil
}

// SetClientEnabled toggles a client locally and pushes the new state to
// every enabled node that holds an auto key for it. Manual keys are
// never auto-toggled.
func (c *Coordinator) SetClientEnabled(ctx context.Context, email string, enabled bool) (*Report, error) {
	operation := "disable"
	if enabled {
		operation = "enable"
	}

	client, err := c.getClientByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetClientEnabled(ctx, client.ID, enabled); err != nil {
		return nil, fmt.Errorf("failed to toggle client: %w", err)
	}

	autoKeys, err := c.keys.ListAutoForClient(ctx, client.ID)
	if err != nil {
		return nil, err
	}

	nodes, keysByNode, err := c.enabledOwningNodes(ctx, autoKeys)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithOperation(logger.WithClientEmail(ctx, email), operation)

	report := c.fanOut(ctx, operation, nodes, func(taskCtx context.Context, n db.Node) (int, error) {
		touched := 0
		for _, key := range keysByNode[n.ID] {
			url, err := c.panel.UpsertClient(taskCtx, n, key.InboundID, panel.ClientEntry{
				Uuid:    key.Uuid,
				Email:   email,
				Enabled: enabled,
			})
			if err != nil {
				return touched, err
			}
			if _, err := c.keys.Record(taskCtx, keystore.RecordParams{
				ClientID:  client.ID,
				NodeID:    n.ID,
				InboundID: key.InboundID,
				Uuid:      key.Uuid,
				VlessUrl:  url,
			}); err != nil {
				return touched, err
			}
			touched++
		}
		return touched, nil
	})

	c.bus.Publish(ctx, events.ClientEvent(events.ClientSynced, email, string(report.Status)))
	c.log.InfoContext(ctx, "client toggled", "email", email, "enabled", enabled, "status", report.Status)
	return report, nil
}

// DeleteClient removes a client from every enabled node that holds any
// of its keys, then deletes the local record regardless of remote
// outcomes. A node that could not be reached leaves a dangling remote
// account; the report tells the administrator which one needs cleanup.
func (c *Coordinator) DeleteClient(ctx context.Context, email string) (*Report, error) {
	client, err := c.getClientByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	allKeys, err := c.keys.ListForClient(ctx, client.ID)
	if err != nil {
		return nil, err
	}

	nodes, keysByNode, err := c.enabledOwningNodes(ctx, allKeys)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithOperation(logger.WithClientEmail(ctx, email), "delete")

	report := c.fanOut(ctx, "delete", nodes, func(taskCtx context.Context, n db.Node) (int, error) {
		removed := 0
		for _, key := range keysByNode[n.ID] {
			if err := c.panel.RemoveClient(taskCtx, n, key.InboundID, email); err != nil {
				return removed, err
			}
			removed++
		}
		return removed, nil
	})

	// Local deletion is never held hostage by an unreachable gateway.
	if err := c.store.DeleteClient(ctx, client.ID); err != nil {
		return report, fmt.Errorf("failed to delete client record: %w", err)
	}

	c.bus.Publish(ctx, events.ClientEvent(events.ClientDeleted, email, string(report.Status)))
	c.log.InfoContext(ctx, "client deleted", "email", email, "status", report.Status)
	return report, nil
}

// ResyncNode replays every enabled client onto one node, typically after
// the node was added or repaved. Inbounds that already carry a manual
// key for a client are left alone.
func (c *Coordinator) ResyncNode(ctx context.Context, nodeID int64) (*ResyncReport, error) {
	n, err := c.nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !n.Enabled {
		return nil, fmt.Errorf("%w: %s", errors.ErrNodeDisabled, n.Name)
	}

	clients, err := c.store.ListEnabledClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	ctx = logger.WithOperation(logger.WithNodeID(ctx, fmt.Sprint(nodeID)), "resync")
	start := time.Now()

	// One node, one session: clients go sequentially, each under its own
	// timeout so a stall on one client cannot eat the whole resync.
	results := make([]ClientResult, 0, len(clients))
	for _, client := range clients {
		clientCtx, cancel := context.WithTimeout(ctx, c.config.NodeTimeout)

		sharedUuid, err := c.keys.SharedUuid(clientCtx, client.ID)
		if err == nil && sharedUuid == "" {
			sharedUuid = uuid.New().String()
		}

		var count int
		if err == nil {
			count, err = c.syncClientToNode(clientCtx, n, client, sharedUuid, true)
		}
		cancel()

		result := ClientResult{Email: client.Email, OK: err == nil, Keys: count}
		if err != nil {
			result.Error = err.Error()
			c.recordNodeFailure(n, err)
		}
		results = append(results, result)
	}

	report := newResyncReport(n.ID, n.Name, results)
	c.metrics.SyncOperations.WithLabelValues("resync", string(report.Status)).Inc()
	c.metrics.SyncDuration.WithLabelValues("resync").Observe(time.Since(start).Seconds())
	c.bus.Publish(ctx, events.NodeEvent(events.NodeResynced, n.ID, string(report.Status)))
	c.log.InfoContext(ctx, "node resynced", "node", n.Name, "clients", len(results), "status", report.Status)
	return report, nil
}

// PurgeNode drops every auto key recorded for a node, ahead of removing
// the node from rotation. Manual keys stay until the node row itself is
// deleted. No remote calls are made.
func (c *Coordinator) PurgeNode(ctx context.Context, nodeID int64) error {
	n, err := c.nodes.Get(ctx, nodeID)
	if err != nil {
		return err
	}
	if err := c.keys.PurgeAutoForNode(ctx, n.ID); err != nil {
		return err
	}
	c.bus.Publish(ctx, events.NodeEvent(events.NodePurged, n.ID, "ok"))
	return nil
}

// syncClientToNode pushes one client onto every inbound of one node,
// skipping inbounds where a manual key already exists.
func (c *Coordinator) syncClientToNode(ctx context.Context, n db.Node, client db.Client, sharedUuid string, enabled bool) (int, error) {
	inbounds, err := c.panel.ListInbounds(ctx, n)
	if err != nil {
		return 0, err
	}

	existing, err := c.store.ListKeysForClientOnNode(ctx, client.ID, n.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing keys: %w", err)
	}
	manualInbounds := make(map[int64]bool)
	for _, key := range existing {
		if key.Manual {
			manualInbounds[key.InboundID] = true
		}
	}

	written := 0
	for _, inbound := range inbounds {
		if manualInbounds[inbound.ID] {
			continue
		}
		url, err := c.panel.UpsertClient(ctx, n, inbound.ID, panel.ClientEntry{
			Uuid:    sharedUuid,
			Email:   client.Email,
			Enabled: enabled,
		})
		if err != nil {
			return written, err
		}
		if _, err := c.keys.Record(ctx, keystore.RecordParams{
			ClientID:  client.ID,
			NodeID:    n.ID,
			InboundID: inbound.ID,
			Uuid:      sharedUuid,
			VlessUrl:  url,
		}); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// fanOut runs one task per node concurrently and gathers the outcomes.
// Per-node errors are collected, never propagated, so one dead gateway
// cannot abort the operation for the rest of the fleet.
func (c *Coordinator) fanOut(ctx context.Context, operation string, nodes []db.Node, task func(context.Context, db.Node) (int, error)) *Report {
	start := time.Now()
	results := make([]NodeResult, len(nodes))

	var wg gosync.WaitGroup
	sem := make(chan struct{}, c.config.MaxConcurrentNodes)

	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n db.Node) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			taskCtx, cancel := context.WithTimeout(ctx, c.config.NodeTimeout)
			defer cancel()

			keys, err := task(taskCtx, n)
			result := NodeResult{NodeID: n.ID, NodeName: n.Name, OK: err == nil, Keys: keys}
			if err != nil {
				result.Error = err.Error()
				result.Kind = errors.RemoteTransport
				if remote, ok := errors.AsRemote(err); ok {
					result.Kind = remote.Kind
				}
				c.recordNodeFailure(n, err)
				c.log.WarnContext(taskCtx, "node failed during fan-out",
					"operation", operation, "node", n.Name, "error", err)
			}
			results[i] = result
		}(i, n)
	}
	wg.Wait()

	report := newReport(operation, results)
	c.metrics.SyncOperations.WithLabelValues(operation, string(report.Status)).Inc()
	c.metrics.SyncDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return report
}

// enabledOwningNodes resolves the distinct enabled nodes that own the
// given keys and groups the keys per node. Disabled nodes are excluded
// from fan-out; their keys stay recorded for a later resync.
func (c *Coordinator) enabledOwningNodes(ctx context.Context, keys []db.Key) ([]db.Node, map[int64][]db.Key, error) {
	keysByNode := make(map[int64][]db.Key)
	for _, key := range keys {
		keysByNode[key.NodeID] = append(keysByNode[key.NodeID], key)
	}

	var nodes []db.Node
	for nodeID := range keysByNode {
		n, err := c.nodes.Get(ctx, nodeID)
		if err != nil {
			if stderrors.Is(err, errors.ErrNodeNotFound) {
				// Keys can outlive a node row briefly during teardown.
				delete(keysByNode, nodeID)
				continue
			}
			return nil, nil, err
		}
		if !n.Enabled {
			delete(keysByNode, nodeID)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, keysByNode, nil
}

func (c *Coordinator) getClientByEmail(ctx context.Context, email string) (db.Client, error) {
	client, err := c.store.GetClientByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return db.Client{}, fmt.Errorf("%w: %s", errors.ErrClientNotFound, email)
		}
		return db.Client{}, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

func (c *Coordinator) recordNodeFailure(n db.Node, err error) {
	kind := errors.RemoteTransport
	if remote, ok := errors.AsRemote(err); ok {
		kind = remote.Kind
	}
	c.metrics.NodeFailures.WithLabelValues(n.Name, string(kind)).Inc()
}
