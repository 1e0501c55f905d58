// Package node manages the registry of remote gateway nodes.
package node

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

// Directory is the node registry. All node reads and writes go through it
// so the rest of the system never touches node rows directly.
type Directory struct {
	store db.Store
	log   *logger.Logger
}

// NewDirectory creates a Directory backed by the given store.
func NewDirectory(store db.Store, log *logger.Logger) *Directory {
	return &Directory{
		store: store,
		log:   log.WithComponent("node-directory"),
	}
}

// RegisterParams describes a node to add to the registry.
type RegisterParams struct {
	Name     string
	ApiUrl   string
	Domain   string
	Username string
	Password string
	Enabled  bool
}

func (p RegisterParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: node name is required", errors.ErrInvalidConfig)
	}
	u, err := url.Parse(p.ApiUrl)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api_url must be an absolute http(s) URL", errors.ErrInvalidConfig)
	}
	if strings.TrimSpace(p.Domain) == "" {
		return fmt.Errorf("%w: domain is required", errors.ErrInvalidConfig)
	}
	if p.Username == "" || p.Password == "" {
		return fmt.Errorf("%w: panel credentials are required", errors.ErrInvalidConfig)
	}
	return nil
}

// Register adds a new node to the registry.
func (d *Directory) Register(ctx context.Context, params RegisterParams) (db.Node, error) {
	if err := params.validate(); err != nil {
		return db.Node{}, err
	}

	node, err := d.store.CreateNode(ctx, db.CreateNodeParams{
		Name:     params.Name,
		ApiUrl:   strings.TrimRight(params.ApiUrl, "/"),
		Domain:   params.Domain,
		Username: params.Username,
		Password: params.Password,
		Enabled:  params.Enabled,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return db.Node{}, fmt.Errorf("%w: %s", errors.ErrDuplicateNode, params.Name)
		}
		return db.Node{}, fmt.Errorf("failed to register node: %w", err)
	}

	d.log.InfoContext(ctx, "node registered", "node_id", node.ID, "name", node.Name)
	return node, nil
}

// Get returns the node with the given id.
func (d *Directory) Get(ctx context.Context, id int64) (db.Node, error) {
	node, err := d.store.GetNode(ctx, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return db.Node{}, fmt.Errorf("%w: id %d", errors.ErrNodeNotFound, id)
		}
		return db.Node{}, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

// GetByName returns the node with the given name.
func (d *Directory) GetByName(ctx context.Context, name string) (db.Node, error) {
	node, err := d.store.GetNodeByName(ctx, name)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return db.Node{}, fmt.Errorf("%w: %s", errors.ErrNodeNotFound, name)
		}
		return db.Node{}, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

// List returns all registered nodes ordered by id.
func (d *Directory) List(ctx context.Context) ([]db.Node, error) {
	nodes, err := d.store.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

// ListEnabled returns the nodes that participate in sync fan-outs,
// ordered by id. That order is what makes subscription payloads stable.
func (d *Directory) ListEnabled(ctx context.Context) ([]db.Node, error) {
	nodes, err := d.store.ListEnabledNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled nodes: %w", err)
	}
	return nodes, nil
}

// Update replaces a node's registration data.
func (d *Directory) Update(ctx context.Context, id int64, params RegisterParams) (db.Node, error) {
	if err := params.validate(); err != nil {
		return db.Node{}, err
	}

	node, err := d.store.UpdateNode(ctx, db.UpdateNodeParams{
		ID:       id,
		Name:     params.Name,
		ApiUrl:   strings.TrimRight(params.ApiUrl, "/"),
		Domain:   params.Domain,
		Username: params.Username,
		Password: params.Password,
		Enabled:  params.Enabled,
	})
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return db.Node{}, fmt.Errorf("%w: id %d", errors.ErrNodeNotFound, id)
		}
		if db.IsUniqueViolation(err) {
			return db.Node{}, fmt.Errorf("%w: %s", errors.ErrDuplicateNode, params.Name)
		}
		return db.Node{}, fmt.Errorf("failed to update node: %w", err)
	}

	d.log.InfoContext(ctx, "node updated", "node_id", node.ID, "name", node.Name)
	return node, nil
}

// SetEnabled toggles a node's participation in sync fan-outs.
func (d *Directory) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := d.store.SetNodeEnabled(ctx, id, enabled); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", errors.ErrNodeNotFound, id)
		}
		return fmt.Errorf("failed to toggle node: %w", err)
	}
	d.log.InfoContext(ctx, "node toggled", "node_id", id, "enabled", enabled)
	return nil
}

// Delete removes a node. Key rows on the node go with it via cascade.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	if err := d.store.DeleteNode(ctx, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", errors.ErrNodeNotFound, id)
		}
		return fmt.Errorf("failed to delete node: %w", err)
	}
	d.log.InfoContext(ctx, "node deleted", "node_id", id)
	return nil
}
