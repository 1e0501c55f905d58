package api

import "time"

// NodeInfo is the wire form of a registered node. Credentials stay
// server-side.
type NodeInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ApiUrl    string    `json:"api_url"`
	Domain    string    `json:"domain"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientInfo is the wire form of a client.
type ClientInfo struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Enabled    bool      `json:"enabled"`
	TelegramID *int64    `json:"telegram_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// KeyInfo is the wire form of one recorded key.
type KeyInfo struct {
	ID        int64  `json:"id"`
	NodeID    int64  `json:"node_id"`
	InboundID int64  `json:"inbound_id"`
	Uuid      string `json:"uuid"`
	VlessUrl  string `json:"vless_url"`
	Manual    bool   `json:"manual"`
}

// NodeResult is one node's outcome in a sync report.
type NodeResult struct {
	NodeID   int64  `json:"node_id"`
	NodeName string `json:"node_name"`
	OK       bool   `json:"ok"`
	Keys     int    `json:"keys"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SyncReport is the aggregate outcome of a fan-out operation.
type SyncReport struct {
	Operation string       `json:"operation"`
	Status    string       `json:"status"`
	Nodes     []NodeResult `json:"nodes"`
}

// ClientResult is one client's outcome in a resync report.
type ClientResult struct {
	Email string `json:"email"`
	OK    bool   `json:"ok"`
	Keys  int    `json:"keys"`
	Error string `json:"error,omitempty"`
}

// ResyncReport is the outcome of replaying all clients onto one node.
type ResyncReport struct {
	NodeID   int64          `json:"node_id"`
	NodeName string         `json:"node_name"`
	Status   string         `json:"status"`
	Clients  []ClientResult `json:"clients"`
}

// SubscriptionLink is the URL a client imports into their VPN app.
type SubscriptionLink struct {
	SubUrl string `json:"sub_url"`
}

// CreateClientResponse couples the stored client with its fan-out report.
type CreateClientResponse struct {
	Client ClientInfo `json:"client"`
	Report SyncReport `json:"report"`
}

// ImportRow is one spreadsheet row's outcome.
type ImportRow struct {
	Email  string `json:"email"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// ImportReport summarizes a spreadsheet import run.
type ImportReport struct {
	DryRun   bool        `json:"dry_run"`
	Created  int         `json:"created"`
	Enabled  int         `json:"enabled"`
	Disabled int         `json:"disabled"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Rows     []ImportRow `json:"rows"`
}
