// Package admin is a client for the storyhost administrative channel. The
// storyhost admin subcommands use it to manage access keys and stories on a
// running server.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haukened/storyhost/internal/httpx"
)

// Static errors for admin client operations.
var (
	// ErrServerURLRequired is returned when no server URL is provided.
	ErrServerURLRequired = errors.New("admin: server URL is required")
	// ErrAuthKeyRequired is returned when no shared secret is provided.
	ErrAuthKeyRequired = errors.New("admin: auth key is required")
	// ErrUnauthorized is returned when the server rejects the shared secret.
	ErrUnauthorized = errors.New("admin: unauthorized")
	// ErrRejected is returned when the server rejects the command (4xx).
	ErrRejected = errors.New("admin: command rejected")
	// ErrServerError is returned when the server fails the command (5xx).
	ErrServerError = errors.New("admin: server error")
)

// Client sends commands to POST /internal.
type Client struct {
	endpoint   string
	authKey    string
	httpClient *http.Client
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a client for the server at serverURL
// (e.g. "http://127.0.0.1:35540").
func NewClient(serverURL, authKey string, opts ...ClientOption) (*Client, error) {
	if serverURL == "" {
		return nil, ErrServerURLRequired
	}
	if authKey == "" {
		return nil, ErrAuthKeyRequired
	}
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("admin: invalid server URL %q", serverURL)
	}
	c := &Client{
		endpoint:   u.String() + "/internal",
		authKey:    authKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AddKey registers key, retiring old first when non-empty.
func (c *Client) AddKey(ctx context.Context, key, old string) error {
	return c.send(ctx, httpx.CommandAdd, httpx.AddKey{Key: key, Old: old})
}

// RemoveKey deregisters key.
func (c *Client) RemoveKey(ctx context.Context, key string) error {
	return c.send(ctx, httpx.CommandRemove, key)
}

// Delete removes one story.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.send(ctx, httpx.CommandDelete, id)
}

// Reset keeps only the listed stories and deletes everything else.
func (c *Client) Reset(ctx context.Context, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	return c.send(ctx, httpx.CommandReset, keep)
}

func (c *Client) send(ctx context.Context, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("admin: encode %s: %w", typ, err)
	}
	body, err := json.Marshal(httpx.Command{Type: typ, Data: raw})
	if err != nil {
		return fmt.Errorf("admin: encode %s: %w", typ, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("admin: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpx.AuthKeyHeader, c.authKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin: %s: %w", typ, err)
	}
	defer resp.Body.Close()
	msg := errorMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d %s", ErrServerError, typ, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: %s: status %d %s", ErrRejected, typ, resp.StatusCode, msg)
	}
}

// errorMessage extracts the error code of a JSON error body, if any.
func errorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4<<10)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}
