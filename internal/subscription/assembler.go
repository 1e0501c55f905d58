// Package subscription renders the aggregated subscription payload a
// client imports into their VPN app. It only ever reads the store, so
// the serving process can run with read-only database access.
package subscription

import (
	"context"
	"database/sql"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

// Assembler builds subscription payloads from recorded keys.
type Assembler struct {
	store db.Store
	log   *logger.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(store db.Store, log *logger.Logger) *Assembler {
	return &Assembler{
		store: store,
		log:   log.WithComponent("subscription"),
	}
}

// Assemble returns the base64 payload for a client. Unknown, disabled
// and keyless clients all come back as ErrClientNotFound so the endpoint
// never leaks which accounts exist.
func (a *Assembler) Assemble(ctx context.Context, email string) (string, error) {
	client, err := a.store.GetClientByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", errors.ErrClientNotFound, email)
		}
		return "", fmt.Errorf("failed to look up client: %w", err)
	}
	if !client.Enabled {
		return "", fmt.Errorf("%w: %s", errors.ErrClientNotFound, email)
	}

	// Ordered by (node, inbound) so the payload is stable between reads.
	keys, err := a.store.ListKeysForClient(ctx, client.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list keys: %w", err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: %s", errors.ErrClientNotFound, email)
	}

	urls := make([]string, len(keys))
	for i, key := range keys {
		urls[i] = key.VlessUrl
	}

	payload := base64.StdEncoding.EncodeToString([]byte(strings.Join(urls, "\n")))
	a.log.DebugContext(ctx, "subscription assembled", "email", email, "keys", len(keys))
	return payload, nil
}
