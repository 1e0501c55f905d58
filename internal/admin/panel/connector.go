// Package panel talks to the management API of remote gateway nodes.
package panel

import (
	"context"

	"github.com/gorillaerror/xui-central/internal/admin/db"
)

// Inbound is one listener on a remote panel that can carry clients.
type Inbound struct {
	ID       int64
	Protocol string
	Remark   string
}

// ClientEntry is the per-inbound client record pushed to a panel.
type ClientEntry struct {
	Uuid    string
	Email   string
	Enabled bool
}

// Connector performs client operations against one node's panel.
// Implementations must return *errors.RemoteError for node-side failures
// so fan-out reports can classify them.
type Connector interface {
	// ListInbounds returns the client-bearing inbounds of the node.
	ListInbounds(ctx context.Context, node db.Node) ([]Inbound, error)

	// UpsertClient adds or replaces the client entry on one inbound and
	// returns the rendered connection URL. Replacement matches by email.
	UpsertClient(ctx context.Context, node db.Node, inboundID int64, entry ClientEntry) (string, error)

	// RemoveClient deletes the client entry with the given email from one
	// inbound. Removing an absent entry is not an error.
	RemoveClient(ctx context.Context, node db.Node, inboundID int64, email string) error
}
