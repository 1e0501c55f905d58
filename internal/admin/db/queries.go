package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// DBTX is the minimal database handle Queries operates on.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds all database queries.
type Queries struct {
	db DBTX
}

// New creates a Queries instance bound to the given handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Querier defines all query methods.
type Querier interface {
	// Nodes
	CreateNode(ctx context.Context, arg CreateNodeParams) (Node, error)
	GetNode(ctx context.Context, id int64) (Node, error)
	GetNodeByName(ctx context.Context, name string) (Node, error)
	ListNodes(ctx context.Context) ([]Node, error)
	ListEnabledNodes(ctx context.Context) ([]Node, error)
	UpdateNode(ctx context.Context, arg UpdateNodeParams) (Node, error)
	SetNodeEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteNode(ctx context.Context, id int64) error

	// Clients
	CreateClient(ctx context.Context, arg CreateClientParams) (Client, error)
	GetClient(ctx context.Context, id int64) (Client, error)
	GetClientByEmail(ctx context.Context, email string) (Client, error)
	GetClientByTelegramID(ctx context.Context, telegramID int64) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	ListEnabledClients(ctx context.Context) ([]Client, error)
	SetClientEnabled(ctx context.Context, id int64, enabled bool) error
	SetClientTelegramID(ctx context.Context, id int64, telegramID sql.NullInt64) error
	DeleteClient(ctx context.Context, id int64) error

	// Keys
	UpsertKey(ctx context.Context, arg UpsertKeyParams) (Key, error)
	GetKey(ctx context.Context, id int64) (Key, error)
	ListKeysForClient(ctx context.Context, clientID int64) ([]Key, error)
	ListAutoKeysForClient(ctx context.Context, clientID int64) ([]Key, error)
	ListKeysForClientOnNode(ctx context.Context, clientID, nodeID int64) ([]Key, error)
	ListAutoKeysForClientOnNode(ctx context.Context, clientID, nodeID int64) ([]Key, error)
	DeleteKey(ctx context.Context, clientID, nodeID, inboundID int64) error
	DeleteKeyByID(ctx context.Context, id int64) error
	DeleteKeysForClient(ctx context.Context, clientID int64) error
	DeleteKeysForNode(ctx context.Context, nodeID int64) error
	DeleteAutoKeysForNode(ctx context.Context, nodeID int64) error
	CountKeysForClient(ctx context.Context, clientID int64) (int64, error)
}

var _ Querier = (*Queries)(nil)

// IsUniqueViolation reports whether err is a sqlite unique-constraint error.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Node queries

const nodeColumns = "id, name, api_url, domain, username, password, enabled, created_at, updated_at"

// CreateNodeParams holds parameters for CreateNode.
type CreateNodeParams struct {
	Name     string
	ApiUrl   string
	Domain   string
	Username string
	Password string
	Enabled  bool
}

func (q *Queries) CreateNode(ctx context.Context, arg CreateNodeParams) (Node, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO nodes (name, api_url, domain, username, password, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+nodeColumns,
		arg.Name, arg.ApiUrl, arg.Domain, arg.Username, arg.Password, arg.Enabled,
	)
	return scanNode(row)
}

func (q *Queries) GetNode(ctx context.Context, id int64) (Node, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

func (q *Queries) GetNodeByName(ctx context.Context, name string) (Node, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE name = ?`, name)
	return scanNode(row)
}

func (q *Queries) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNodes(rows)
}

func (q *Queries) ListEnabledNodes(ctx context.Context) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNodes(rows)
}

// UpdateNodeParams holds parameters for UpdateNode.
type UpdateNodeParams struct {
	ID       int64
	Name     string
	ApiUrl   string
	Domain   string
	Username string
	Password string
	Enabled  bool
}

func (q *Queries) UpdateNode(ctx context.Context, arg UpdateNodeParams) (Node, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE nodes
		SET name = ?, api_url = ?, domain = ?, username = ?, password = ?, enabled = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING `+nodeColumns,
		arg.Name, arg.ApiUrl, arg.Domain, arg.Username, arg.Password, arg.Enabled, arg.ID,
	)
	return scanNode(row)
}

func (q *Queries) SetNodeEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE nodes SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, id,
	)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (q *Queries) DeleteNode(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// Client queries

const clientColumns = "id, email, enabled, telegram_id, created_at, updated_at"

// CreateClientParams holds parameters for CreateClient.
type CreateClientParams struct {
	Email      string
	Enabled    bool
	TelegramID sql.NullInt64
}

func (q *Queries) CreateClient(ctx context.Context, arg CreateClientParams) (Client, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO clients (email, enabled, telegram_id)
		VALUES (?, ?, ?)
		RETURNING `+clientColumns,
		arg.Email, arg.Enabled, arg.TelegramID,
	)
	return scanClient(row)
}

func (q *Queries) GetClient(ctx context.Context, id int64) (Client, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (q *Queries) GetClientByEmail(ctx context.Context, email string) (Client, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE email = ?`, email)
	return scanClient(row)
}

func (q *Queries) GetClientByTelegramID(ctx context.Context, telegramID int64) (Client, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE telegram_id = ?`, telegramID)
	return scanClient(row)
}

func (q *Queries) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClients(rows)
}

func (q *Queries) ListEnabledClients(ctx context.Context) ([]Client, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClients(rows)
}

func (q *Queries) SetClientEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE clients SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, id,
	)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (q *Queries) SetClientTelegramID(ctx context.Context, id int64, telegramID sql.NullInt64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE clients SET telegram_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		telegramID, id,
	)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (q *Queries) DeleteClient(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// Key queries

const keyColumns = "id, client_id, node_id, inbound_id, uuid, vless_url, manual, created_at"

// UpsertKeyParams holds parameters for UpsertKey.
type UpsertKeyParams struct {
	ClientID  int64
	NodeID    int64
	InboundID int64
	Uuid      string
	VlessUrl  string
	Manual    bool
}

// UpsertKey inserts or updates the unique (client, node, inbound) record.
func (q *Queries) UpsertKey(ctx context.Context, arg UpsertKeyParams) (Key, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO keys (client_id, node_id, inbound_id, uuid, vless_url, manual)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, node_id, inbound_id)
		DO UPDATE SET uuid = excluded.uuid, vless_url = excluded.vless_url, manual = excluded.manual
		RETURNING `+keyColumns,
		arg.ClientID, arg.NodeID, arg.InboundID, arg.Uuid, arg.VlessUrl, arg.Manual,
	)
	return scanKey(row)
}

func (q *Queries) GetKey(ctx context.Context, id int64) (Key, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM keys WHERE id = ?`, id)
	return scanKey(row)
}

func (q *Queries) ListKeysForClient(ctx context.Context, clientID int64) ([]Key, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+keyColumns+` FROM keys WHERE client_id = ? ORDER BY node_id, inbound_id`,
		clientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeys(rows)
}

func (q *Queries) ListAutoKeysForClient(ctx context.Context, clientID int64) ([]Key, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+keyColumns+` FROM keys WHERE client_id = ? AND manual = 0 ORDER BY node_id, inbound_id`,
		clientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeys(rows)
}

func (q *Queries) ListKeysForClientOnNode(ctx context.Context, clientID, nodeID int64) ([]Key, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+keyColumns+` FROM keys WHERE client_id = ? AND node_id = ? ORDER BY inbound_id`,
		clientID, nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeys(rows)
}

func (q *Queries) ListAutoKeysForClientOnNode(ctx context.Context, clientID, nodeID int64) ([]Key, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+keyColumns+` FROM keys WHERE client_id = ? AND node_id = ? AND manual = 0 ORDER BY inbound_id`,
		clientID, nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeys(rows)
}

func (q *Queries) DeleteKey(ctx context.Context, clientID, nodeID, inboundID int64) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM keys WHERE client_id = ? AND node_id = ? AND inbound_id = ?`,
		clientID, nodeID, inboundID,
	)
	return err
}

func (q *Queries) DeleteKeyByID(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (q *Queries) DeleteKeysForClient(ctx context.Context, clientID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM keys WHERE client_id = ?`, clientID)
	return err
}

func (q *Queries) DeleteKeysForNode(ctx context.Context, nodeID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM keys WHERE node_id = ?`, nodeID)
	return err
}

func (q *Queries) DeleteAutoKeysForNode(ctx context.Context, nodeID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM keys WHERE node_id = ? AND manual = 0`, nodeID)
	return err
}

func (q *Queries) CountKeysForClient(ctx context.Context, clientID int64) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM keys WHERE client_id = ?`, clientID).Scan(&count)
	return count, err
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (Node, error) {
	var n Node
	err := row.Scan(&n.ID, &n.Name, &n.ApiUrl, &n.Domain, &n.Username, &n.Password,
		&n.Enabled, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func collectNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanClient(row rowScanner) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Email, &c.Enabled, &c.TelegramID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func collectClients(rows *sql.Rows) ([]Client, error) {
	var clients []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func scanKey(row rowScanner) (Key, error) {
	var k Key
	err := row.Scan(&k.ID, &k.ClientID, &k.NodeID, &k.InboundID, &k.Uuid, &k.VlessUrl,
		&k.Manual, &k.CreatedAt)
	return k, err
}

func collectKeys(rows *sql.Rows) ([]Key, error) {
	var keys []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
