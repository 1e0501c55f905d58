package db

import (
	"database/sql"
	"time"
)

// Node is one remote gateway panel as stored in the database.
// ApiUrl is the management endpoint (private address); Domain is the
// public-facing name used only when rendering client URLs.
type Node struct {
	ID        int64
	Name      string
	ApiUrl    string
	Domain    string
	Username  string
	Password  string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Client is one logical VPN user identity.
type Client struct {
	ID         int64
	Email      string
	Enabled    bool
	TelegramID sql.NullInt64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key records a client's presence on one node's one inbound.
// The (ClientID, NodeID, InboundID) triple is unique.
type Key struct {
	ID        int64
	ClientID  int64
	NodeID    int64
	InboundID int64
	Uuid      string
	VlessUrl  string
	Manual    bool
	CreatedAt time.Time
}
