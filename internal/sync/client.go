package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/packsync/internal/auth"
	"example.com/packsync/internal/premium"
)

// Client talks to the sync API over HTTP. It implements both the sync
// transport used by the engine and premium.Validator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func() string
}

// ClientOption configures optional behaviour for the Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenSource supplies the bearer token attached to every request.
func WithTokenSource(token func() string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient constructs a Client with sane defaults.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges the device id for a token pair. No bearer token is
// required.
func (c *Client) Login(ctx context.Context, deviceID string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.postJSON(ctx, "/api/auth/login", map[string]string{"deviceId": deviceID}, &pair)
	return pair, err
}

// RefreshAuth rotates the refresh token for a new pair.
func (c *Client) RefreshAuth(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.postJSON(ctx, "/api/auth/refresh", map[string]string{"refreshToken": refreshToken}, &pair)
	return pair, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return httpError(path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ValidateSubscription fetches the caller's subscription status.
func (c *Client) ValidateSubscription(ctx context.Context) (premium.Status, error) {
	var status premium.Status
	if err := c.get(ctx, "/api/subscription/status", &status); err != nil {
		return premium.Status{}, err
	}
	return status, nil
}

// Upload sends the device payload to the server.
func (c *Client) Upload(ctx context.Context, payload Payload) (UploadResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return UploadResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync/upload", bytes.NewReader(body))
	if err != nil {
		return UploadResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return UploadResponse{}, httpError("upload", resp)
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResponse{}, err
	}
	return out, nil
}

// Download fetches server changes since the given time, or everything
// when since is nil. A nil payload means the server had nothing to send.
func (c *Client) Download(ctx context.Context, since *time.Time) (*Payload, error) {
	path := "/api/sync/download"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, httpError("download", resp)
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// LastModified asks the server for the most recent modification time of
// the caller's data. A nil result means the server has no data.
func (c *Client) LastModified(ctx context.Context) (*time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sync/last-modified", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, httpError("last-modified", resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if trimmed == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse last-modified %q: %w", trimmed, err)
	}
	ts = ts.UTC()
	return &ts, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return httpError(path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func httpError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("sync api %s: status %d: %s", op, resp.StatusCode, msg)
}
