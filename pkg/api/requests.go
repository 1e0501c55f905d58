package api

// CreateNodeRequest registers a new gateway node.
type CreateNodeRequest struct {
	Name     string `json:"name"`
	ApiUrl   string `json:"api_url"`
	Domain   string `json:"domain"`
	Username string `json:"username"`
	Password string `json:"password"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// UpdateNodeRequest replaces a node's registration data.
type UpdateNodeRequest struct {
	Name     string `json:"name"`
	ApiUrl   string `json:"api_url"`
	Domain   string `json:"domain"`
	Username string `json:"username"`
	Password string `json:"password"`
	Enabled  bool   `json:"enabled"`
}

// CreateClientRequest registers a client and triggers a create fan-out.
type CreateClientRequest struct {
	Email      string `json:"email"`
	TelegramID *int64 `json:"telegram_id,omitempty"`
}

// SetEnabledRequest toggles a client or node.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// CreateManualKeyRequest records an operator-managed key that sync will
// never touch.
type CreateManualKeyRequest struct {
	NodeID    int64  `json:"node_id"`
	InboundID int64  `json:"inbound_id"`
	Uuid      string `json:"uuid"`
	VlessUrl  string `json:"vless_url"`
}

// ImportRequest triggers a spreadsheet import run.
type ImportRequest struct {
	// DryRun reports what would change without touching nodes or store.
	DryRun bool `json:"dry_run"`
}
