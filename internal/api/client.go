package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/auth"
	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/M1TCH3llM/VideoChat/internal/protocol"
)

// ErrNotLoggedIn is returned by call actions before Login succeeds.
var ErrNotLoggedIn = auth.ErrNoCredential

// Error is a non-2xx response.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unauthorized reports whether the server rejected the credential.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client talks to the call server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *auth.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a client rooted at baseURL (e.g. http://localhost:8080).
func NewClient(baseURL string, timeout time.Duration, store *auth.Store, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	if store == nil {
		return nil, fmt.Errorf("credential store cannot be nil")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     logger,
		metrics:    m,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Login authenticates and stores the returned credential.
func (c *Client) Login(ctx context.Context, username, password string) (auth.Credential, error) {
	if username == "" || password == "" {
		return auth.Credential{}, fmt.Errorf("username and password are required")
	}

	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return auth.Credential{}, fmt.Errorf("failed to encode login request: %w", err)
	}

	var resp loginResponse
	if err := c.do(ctx, "login", "/auth/login", nil, bytes.NewReader(body), false, &resp); err != nil {
		return auth.Credential{}, err
	}
	if resp.Token == "" {
		return auth.Credential{}, fmt.Errorf("login: response carried no token")
	}

	cred := auth.Credential{Username: resp.Username, Token: resp.Token}
	if cred.Username == "" {
		cred.Username = username
	}
	if err := c.store.Set(cred); err != nil {
		return auth.Credential{}, err
	}

	c.logger.Info("Logged in", slog.String("username", cred.Username))
	return cred, nil
}

// Logout forgets the stored credential.
func (c *Client) Logout() {
	c.store.Clear()
}

// Ring asks the server to ring receiver.
func (c *Client) Ring(ctx context.Context, receiver string) error {
	q := url.Values{"receiver": {receiver}}
	err := c.do(ctx, "ring", "/call/ring", q, nil, true, nil)
	c.metrics.RecordCallAction("ring", err)
	return err
}

// Answer accepts call callID from caller.
func (c *Client) Answer(ctx context.Context, callID protocol.CallID, caller string) error {
	if caller == "" {
		return fmt.Errorf("answer: caller is required")
	}
	q := url.Values{"callId": {callID.String()}, "caller": {caller}}
	err := c.do(ctx, "answer", "/call/answer", q, nil, true, nil)
	c.metrics.RecordCallAction("answer", err)
	return err
}

// Hangup ends call callID and notifies peer.
func (c *Client) Hangup(ctx context.Context, callID protocol.CallID, peer string) error {
	q := url.Values{"callId": {callID.String()}, "peer": {peer}}
	err := c.do(ctx, "hangup", "/call/hangup", q, nil, true, nil)
	c.metrics.RecordCallAction("hangup", err)
	return err
}

func (c *Client) do(ctx context.Context, op, path string, query url.Values, body io.Reader, authed bool, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	if authed {
		cred, ok := c.store.Current()
		if !ok {
			return fmt.Errorf("%s: %w", op, ErrNotLoggedIn)
		}
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	c.logger.Debug("API request completed",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode))

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// IsUnauthorized reports whether err is a 401/403 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}
