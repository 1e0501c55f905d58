// Package keystore tracks which keys exist for which client on which node.
//
// Keys come in two flavors: auto keys are written by sync fan-outs and
// owned by the coordinator; manual keys are operator-recorded exemptions
// that sync must never touch.
package keystore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

// Keystore is the key ledger over the database.
type Keystore struct {
	store db.Store
	log   *logger.Logger
}

// New creates a Keystore backed by the given store.
func New(store db.Store, log *logger.Logger) *Keystore {
	return &Keystore{
		store: store,
		log:   log.WithComponent("keystore"),
	}
}

// RecordParams describes a key to record or replace.
type RecordParams struct {
	ClientID  int64
	NodeID    int64
	InboundID int64
	Uuid      string
	VlessUrl  string
	Manual    bool
}

// Record writes a key for (client, node, inbound), replacing any
// existing record for that triple.
func (k *Keystore) Record(ctx context.Context, params RecordParams) (db.Key, error) {
	key, err := k.store.UpsertKey(ctx, db.UpsertKeyParams{
		ClientID:  params.ClientID,
		NodeID:    params.NodeID,
		InboundID: params.InboundID,
		Uuid:      params.Uuid,
		VlessUrl:  params.VlessUrl,
		Manual:    params.Manual,
	})
	if err != nil {
		return db.Key{}, fmt.Errorf("failed to record key: %w", err)
	}
	return key, nil
}

// Get returns a single key by id.
func (k *Keystore) Get(ctx context.Context, id int64) (db.Key, error) {
	key, err := k.store.GetKey(ctx, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return db.Key{}, fmt.Errorf("%w: id %d", errors.ErrKeyNotFound, id)
		}
		return db.Key{}, fmt.Errorf("failed to get key: %w", err)
	}
	return key, nil
}

// ListForClient returns every key of a client ordered by (node, inbound).
// Subscription assembly depends on that order.
func (k *Keystore) ListForClient(ctx context.Context, clientID int64) ([]db.Key, error) {
	keys, err := k.store.ListKeysForClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// ListAutoForClient returns the sync-owned keys of a client.
func (k *Keystore) ListAutoForClient(ctx context.Context, clientID int64) ([]db.Key, error) {
	keys, err := k.store.ListAutoKeysForClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto keys: %w", err)
	}
	return keys, nil
}

// ListAutoForClientOnNode returns the sync-owned keys of a client on one node.
func (k *Keystore) ListAutoForClientOnNode(ctx context.Context, clientID, nodeID int64) ([]db.Key, error) {
	keys, err := k.store.ListAutoKeysForClientOnNode(ctx, clientID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto keys on node: %w", err)
	}
	return keys, nil
}

// Delete removes the key for (client, node, inbound). Missing keys are
// not an error, delete is used for cleanup where absence is the goal.
func (k *Keystore) Delete(ctx context.Context, clientID, nodeID, inboundID int64) error {
	if err := k.store.DeleteKey(ctx, clientID, nodeID, inboundID); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// DeleteByID removes one key by id.
func (k *Keystore) DeleteByID(ctx context.Context, id int64) error {
	if err := k.store.DeleteKeyByID(ctx, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", errors.ErrKeyNotFound, id)
		}
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// DeleteAllForClient removes every key of a client, manual included.
func (k *Keystore) DeleteAllForClient(ctx context.Context, clientID int64) error {
	if err := k.store.DeleteKeysForClient(ctx, clientID); err != nil {
		return fmt.Errorf("failed to delete client keys: %w", err)
	}
	return nil
}

// PurgeAutoForNode removes all sync-owned keys on a node, leaving manual
// exemptions in place.
func (k *Keystore) PurgeAutoForNode(ctx context.Context, nodeID int64) error {
	if err := k.store.DeleteAutoKeysForNode(ctx, nodeID); err != nil {
		return fmt.Errorf("failed to purge node keys: %w", err)
	}
	k.log.InfoContext(ctx, "auto keys purged for node", "node_id", nodeID)
	return nil
}

// SharedUuid picks the uuid to reuse across nodes for a client, the one
// already recorded on the lowest-id node. Empty means no key exists yet.
func (k *Keystore) SharedUuid(ctx context.Context, clientID int64) (string, error) {
	keys, err := k.store.ListAutoKeysForClient(ctx, clientID)
	if err != nil {
		return "", fmt.Errorf("failed to look up shared uuid: %w", err)
	}
	if len(keys) == 0 {
		return "", nil
	}
	// Keys are ordered by (node_id, inbound_id) already.
	return keys[0].Uuid, nil
}
