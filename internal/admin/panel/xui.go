package panel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

// Config holds the knobs for talking to 3x-ui panels.
type Config struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	// InsecureTLS skips certificate verification. Panels are usually
	// reached over a private network with self-signed certificates, so
	// this defaults to true.
	InsecureTLS bool `mapstructure:"insecure_tls"`
}

// DefaultConfig returns the panel client defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 15 * time.Second,
		SessionTTL:     10 * time.Minute,
		InsecureTLS:    true,
	}
}

type session struct {
	cookies   []*http.Cookie
	expiresAt time.Time
}

// XUIConnector implements Connector against the 3x-ui panel HTTP API.
// Sessions are cached per node and refreshed when the TTL lapses or the
// panel bounces us back to the login page.
type XUIConnector struct {
	httpClient *http.Client
	config     Config
	log        *logger.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewXUIConnector creates a panel connector.
func NewXUIConnector(config Config, log *logger.Logger) *XUIConnector {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &XUIConnector{
		httpClient: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: transport,
			// Login failures come back as redirects to the login page,
			// follow nothing so we can see them.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config:   config,
		log:      log.WithComponent("panel"),
		sessions: make(map[int64]*session),
	}
}

// panelResponse is the 3x-ui API envelope.
type panelResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// xuiInbound carries the fields we touch plus everything else raw so an
// update posts back exactly what the panel gave us.
type xuiInbound map[string]json.RawMessage

// xuiClient is one client entry inside an inbound's settings.
type xuiClient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	Flow       string `json:"flow"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
}

func newXUIClient(entry ClientEntry) xuiClient {
	return xuiClient{
		ID:     entry.Uuid,
		Email:  entry.Email,
		Enable: entry.Enabled,
		SubID:  entry.Email,
	}
}

// ListInbounds implements Connector.
func (c *XUIConnector) ListInbounds(ctx context.Context, node db.Node) ([]Inbound, error) {
	raw, err := c.listInbounds(ctx, node)
	if err != nil {
		return nil, err
	}

	inbounds := make([]Inbound, 0, len(raw))
	for _, in := range raw {
		id, err := inboundID(in)
		if err != nil {
			return nil, errors.NewRemoteRejectedError(node.ID, node.Name, "malformed inbound in list", err)
		}
		inbounds = append(inbounds, Inbound{
			ID:       id,
			Protocol: rawString(in, "protocol"),
			Remark:   rawString(in, "remark"),
		})
	}
	return inbounds, nil
}

// UpsertClient implements Connector.
func (c *XUIConnector) UpsertClient(ctx context.Context, node db.Node, inboundID int64, entry ClientEntry) (string, error) {
	err := c.mutateInbound(ctx, node, inboundID, func(clients []xuiClient) []xuiClient {
		next := newXUIClient(entry)
		for i, existing := range clients {
			if existing.Email == entry.Email {
				clients[i] = next
				return clients
			}
		}
		return append(clients, next)
	})
	if err != nil {
		return "", err
	}
	return VlessURL(node, entry.Uuid, entry.Email), nil
}

// RemoveClient implements Connector.
func (c *XUIConnector) RemoveClient(ctx context.Context, node db.Node, inboundID int64, email string) error {
	return c.mutateInbound(ctx, node, inboundID, func(clients []xuiClient) []xuiClient {
		kept := clients[:0]
		for _, existing := range clients {
			if existing.Email != email {
				kept = append(kept, existing)
			}
		}
		return kept
	})
}

// mutateInbound fetches an inbound, rewrites its client list and posts
// the whole inbound back.
func (c *XUIConnector) mutateInbound(ctx context.Context, node db.Node, inboundID int64, mutate func([]xuiClient) []xuiClient) error {
	raw, err := c.listInbounds(ctx, node)
	if err != nil {
		return err
	}

	inbound, found := findInbound(raw, inboundID)
	if !found {
		return errors.NewRemoteRejectedError(node.ID, node.Name,
			fmt.Sprintf("inbound %d does not exist", inboundID), nil)
	}

	settings := make(map[string]json.RawMessage)
	if rawSettings, ok := inbound["settings"]; ok {
		var settingsStr string
		if err := json.Unmarshal(rawSettings, &settingsStr); err != nil {
			return errors.NewRemoteRejectedError(node.ID, node.Name, "malformed inbound settings", err)
		}
		if settingsStr != "" {
			if err := json.Unmarshal([]byte(settingsStr), &settings); err != nil {
				return errors.NewRemoteRejectedError(node.ID, node.Name, "malformed inbound settings", err)
			}
		}
	}

	var clients []xuiClient
	if rawClients, ok := settings["clients"]; ok {
		if err := json.Unmarshal(rawClients, &clients); err != nil {
			return errors.NewRemoteRejectedError(node.ID, node.Name, "malformed client list", err)
		}
	}

	clients = mutate(clients)

	clientsJSON, err := json.Marshal(clients)
	if err != nil {
		return fmt.Errorf("failed to marshal client list: %w", err)
	}
	settings["clients"] = clientsJSON

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	settingsStrJSON, err := json.Marshal(string(settingsJSON))
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	inbound["settings"] = settingsStrJSON

	body, err := json.Marshal(inbound)
	if err != nil {
		return fmt.Errorf("failed to marshal inbound: %w", err)
	}

	endpoint := fmt.Sprintf("%s/panel/api/inbounds/update/%d", node.ApiUrl, inboundID)
	resp, err := c.doJSON(ctx, node, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.NewRemoteRejectedError(node.ID, node.Name,
			fmt.Sprintf("inbound update rejected: %s", resp.Msg), nil)
	}
	return nil
}

func (c *XUIConnector) listInbounds(ctx context.Context, node db.Node) ([]xuiInbound, error) {
	endpoint := node.ApiUrl + "/panel/api/inbounds/list"
	resp, err := c.doJSON(ctx, node, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.NewRemoteRejectedError(node.ID, node.Name,
			fmt.Sprintf("inbound list rejected: %s", resp.Msg), nil)
	}

	var raw []xuiInbound
	if err := json.Unmarshal(resp.Obj, &raw); err != nil {
		return nil, errors.NewRemoteRejectedError(node.ID, node.Name, "malformed inbound list", err)
	}
	return raw, nil
}

// doJSON performs an authenticated request, logging in again once if the
// cached session turned out to be stale.
func (c *XUIConnector) doJSON(ctx context.Context, node db.Node, method, endpoint string, body []byte) (*panelResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cookies, err := c.authenticate(ctx, node, attempt > 0)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for _, cookie := range cookies {
			req.AddCookie(cookie)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.NewRemoteTransportError(node.ID, node.Name, "request failed", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, errors.NewRemoteTransportError(node.ID, node.Name, "failed to read response", err)
		}

		// A stale session gets bounced to the login page.
		if resp.StatusCode == http.StatusUnauthorized || isLoginRedirect(resp) {
			c.dropSession(node.ID)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errors.NewRemoteRejectedError(node.ID, node.Name,
				fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}

		var apiResp panelResponse
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, errors.NewRemoteRejectedError(node.ID, node.Name, "malformed response", err)
		}
		return &apiResp, nil
	}

	return nil, errors.NewRemoteAuthError(node.ID, node.Name, "session rejected after re-login", nil)
}

// authenticate returns session cookies for the node, logging in when the
// cache has nothing fresh. force discards any cached session first.
func (c *XUIConnector) authenticate(ctx context.Context, node db.Node, force bool) ([]*http.Cookie, error) {
	c.mu.Lock()
	if !force {
		if s, ok := c.sessions[node.ID]; ok && time.Now().Before(s.expiresAt) {
			cookies := s.cookies
			c.mu.Unlock()
			return cookies, nil
		}
	}
	delete(c.sessions, node.ID)
	c.mu.Unlock()

	form := url.Values{
		"username": {node.Username},
		"password": {node.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.ApiUrl+"/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRemoteTransportError(node.ID, node.Name, "login request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewRemoteTransportError(node.ID, node.Name, "failed to read login response", err)
	}

	var loginResp panelResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &loginResp) != nil || !loginResp.Success {
		return nil, errors.NewRemoteAuthError(node.ID, node.Name, "panel rejected credentials", nil)
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return nil, errors.NewRemoteAuthError(node.ID, node.Name, "login succeeded but no session cookie", nil)
	}

	c.mu.Lock()
	c.sessions[node.ID] = &session{
		cookies:   cookies,
		expiresAt: time.Now().Add(c.config.SessionTTL),
	}
	c.mu.Unlock()

	c.log.DebugContext(ctx, "panel session established", "node_id", node.ID, "node", node.Name)
	return cookies, nil
}

func (c *XUIConnector) dropSession(nodeID int64) {
	c.mu.Lock()
	delete(c.sessions, nodeID)
	c.mu.Unlock()
}

func isLoginRedirect(resp *http.Response) bool {
	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusTemporaryRedirect {
		return false
	}
	return strings.Contains(resp.Header.Get("Location"), "login")
}

func findInbound(raw []xuiInbound, id int64) (xuiInbound, bool) {
	for _, in := range raw {
		got, err := inboundID(in)
		if err == nil && got == id {
			return in, true
		}
	}
	return nil, false
}

func inboundID(in xuiInbound) (int64, error) {
	rawID, ok := in["id"]
	if !ok {
		return 0, fmt.Errorf("inbound has no id")
	}
	var id int64
	if err := json.Unmarshal(rawID, &id); err != nil {
		return 0, fmt.Errorf("inbound id is not a number: %w", err)
	}
	return id, nil
}

func rawString(in xuiInbound, key string) string {
	rawVal, ok := in[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(rawVal, &s) != nil {
		return ""
	}
	return s
}
