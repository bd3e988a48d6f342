package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// ClientConfig configures the HTTP backend client.
type ClientConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// AuthToken is sent as a bearer token on every request.
	AuthToken string

	// Timeout bounds each HTTP request. A timed-out call is classified
	// as ErrUnreachable, identical to any other transient failure.
	Timeout time.Duration

	// Retry controls in-call retry of transient failures.
	Retry RetryConfig
}

// Client is the HTTP implementation of Backend.
type Client struct {
	cfg  ClientConfig
	http *http.Client

	tokenMu sync.RWMutex
	token   string
}

var _ Backend = (*Client)(nil)

// NewClient creates an HTTP backend client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		token: cfg.AuthToken,
	}
}

// SetAuthToken replaces the bearer token. Safe to call while requests are
// in flight; provisioning tools rotate credentials on live devices.
func (c *Client) SetAuthToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) authToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// Ping implements Backend.Ping via the backend health endpoint.
// Ping is the monitor's probe, so it runs without in-call retries.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", "", nil, nil)
	return err
}

// Select implements Backend.Select.
func (c *Client) Select(ctx context.Context, table entity.Table, filter map[string]string) ([]entity.Fields, error) {
	var query url.Values
	if len(filter) > 0 {
		query = url.Values{}
		for k, v := range filter {
			query.Set(k, v)
		}
	}

	return WithRetry(ctx, c.cfg.Retry, func() ([]entity.Fields, error) {
		body, err := c.do(ctx, http.MethodGet, "/api/"+string(table), "select", query, nil)
		if err != nil {
			return nil, err
		}
		return decodeRows(body)
	})
}

// Insert implements Backend.Insert.
func (c *Client) Insert(ctx context.Context, table entity.Table, fields entity.Fields) error {
	_, err := WithRetry(ctx, c.cfg.Retry, func() (struct{}, error) {
		_, err := c.do(ctx, http.MethodPost, "/api/"+string(table), "insert", nil, fields)
		return struct{}{}, err
	})
	return err
}

// Update implements Backend.Update.
func (c *Client) Update(ctx context.Context, table entity.Table, id string, fields entity.Fields) error {
	path := fmt.Sprintf("/api/%s/%s", table, url.PathEscape(id))
	_, err := WithRetry(ctx, c.cfg.Retry, func() (struct{}, error) {
		_, err := c.do(ctx, http.MethodPatch, path, "update", nil, fields)
		return struct{}{}, err
	})
	return err
}

// Upsert implements Backend.Upsert. The backend treats PUT by primary key
// as insert-or-update, so a retried push is safe.
func (c *Client) Upsert(ctx context.Context, table entity.Table, fields entity.Fields) error {
	id := fields.ID()
	if id == "" {
		return &RemoteError{Op: "upsert", Table: string(table), Err: ErrRejected, Detail: "record has no id"}
	}

	path := fmt.Sprintf("/api/%s/%s", table, url.PathEscape(id))
	_, err := WithRetry(ctx, c.cfg.Retry, func() (struct{}, error) {
		_, err := c.do(ctx, http.MethodPut, path, "upsert", nil, fields)
		return struct{}{}, err
	})
	return err
}

// VisibleRows implements Backend.VisibleRows. The backend filters the rowset
// to what the operator's hierarchy may see.
func (c *Client) VisibleRows(ctx context.Context, table entity.Table, operatorID string) ([]entity.Fields, error) {
	query := url.Values{}
	query.Set("operator", operatorID)

	return WithRetry(ctx, c.cfg.Retry, func() ([]entity.Fields, error) {
		body, err := c.do(ctx, http.MethodGet, "/api/sync/"+string(table), "visible_rows", query, nil)
		if err != nil {
			return nil, err
		}
		return decodeRows(body)
	})
}

// do performs one HTTP request and classifies the outcome.
func (c *Client) do(ctx context.Context, method, path, op string, query url.Values, payload any) ([]byte, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.authToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and refused connections land here.
		return nil, &RemoteError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &RemoteError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Detail: serverDetail(data), Err: ErrUnauthorized}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Detail: serverDetail(data), Err: ErrRejected}
	default:
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Detail: serverDetail(data), Err: ErrUnreachable}
	}
}

// serverDetail extracts a human-readable message from an error response.
func serverDetail(data []byte) string {
	var msg struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err == nil {
		if msg.Error != "" {
			return msg.Error
		}
		if msg.Message != "" {
			return msg.Message
		}
	}
	detail := strings.TrimSpace(string(data))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}

func decodeRows(data []byte) ([]entity.Fields, error) {
	var rows []entity.Fields
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}
	return rows, nil
}
