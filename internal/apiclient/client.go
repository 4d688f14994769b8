// Package apiclient talks to the stockwatch REST API.
package apiclient

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

	"github.com/kjannette/stockwatch-backend/internal/httputil"
	"github.com/kjannette/stockwatch-backend/internal/models"
	"github.com/kjannette/stockwatch-backend/internal/watchlist"
)

// APIError is a non-2xx answer. State is set when the server returned the
// dashboard state alongside the error.
type APIError struct {
	Status  int
	Message string
	State   *watchlist.Snapshot
}

func (e *APIError) Error() string {
	if e.State != nil && e.State.Banner != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.State.Banner)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   httputil.RetryConfig
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 20 * time.Second},
		retry:   httputil.RetryConfig{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

type envelope struct {
	ID       string              `json:"id,omitempty"`
	Error    string              `json:"error,omitempty"`
	Identity *models.Identity    `json:"identity,omitempty"`
	State    *watchlist.Snapshot `json:"state,omitempty"`
}

// Health is the /health payload.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Services  struct {
		Database string `json:"database"`
		Driver   string `json:"driver"`
	} `json:"services"`
	Sessions int `json:"sessions"`
}

func (c *Client) CreateSession(ctx context.Context) (string, *watchlist.Snapshot, error) {
	var env envelope
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &env); err != nil {
		return "", nil, err
	}
	return env.ID, env.State, nil
}

func (c *Client) Session(ctx context.Context, id string) (*watchlist.Snapshot, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, sessionPath(id), nil, &env); err != nil {
		return nil, err
	}
	return env.State, nil
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}

func (c *Client) SignIn(ctx context.Context, id, credential string) (*models.Identity, *watchlist.Snapshot, error) {
	var env envelope
	body := map[string]string{"credential": credential}
	if err := c.do(ctx, http.MethodPost, sessionPath(id)+"/signin", body, &env); err != nil {
		return nil, nil, err
	}
	return env.Identity, env.State, nil
}

func (c *Client) SignOut(ctx context.Context, id string) (*watchlist.Snapshot, error) {
	return c.state(ctx, http.MethodPost, sessionPath(id)+"/signout", nil)
}

func (c *Client) AddSymbol(ctx context.Context, id, symbol string) (*watchlist.Snapshot, error) {
	return c.state(ctx, http.MethodPost, sessionPath(id)+"/symbols", map[string]string{"symbol": symbol})
}

func (c *Client) RemoveSymbol(ctx context.Context, id, symbol string) (*watchlist.Snapshot, error) {
	return c.state(ctx, http.MethodDelete, sessionPath(id)+"/symbols/"+url.PathEscape(symbol), nil)
}

func (c *Client) Refresh(ctx context.Context, id string) (*watchlist.Snapshot, error) {
	return c.state(ctx, http.MethodPost, sessionPath(id)+"/refresh", nil)
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := httputil.GetJSON(ctx, c.http, c.retry, c.baseURL+"/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func sessionPath(id string) string {
	return "/v1/sessions/" + url.PathEscape(id)
}

func (c *Client) state(ctx context.Context, method, path string, body any) (*watchlist.Snapshot, error) {
	var env envelope
	if err := c.do(ctx, method, path, body, &env); err != nil {
		return nil, err
	}
	return env.State, nil
}

// do sends one API call. Only GETs are retried; every other method
// changes server state and gets a single attempt.
func (c *Client) do(ctx context.Context, method, path string, body any, out *envelope) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	cfg := httputil.NoRetry
	if method == http.MethodGet {
		cfg = c.retry
	}

	resp, err := httputil.Do(ctx, c.http, cfg, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) {
			// gateway errors arrive here with a truncated body
			var env envelope
			if json.Unmarshal([]byte(se.Body), &env) == nil && env.Error != "" {
				return &APIError{Status: se.Code, Message: env.Error, State: env.State}
			}
			return &APIError{Status: se.Code, Message: se.Body}
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: msg, State: env.State}
	}
	if out != nil {
		*out = env
	}
	return nil
}
