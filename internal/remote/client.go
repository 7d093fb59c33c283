// Package remote talks to the hosted daily_stars table over HTTP.
package remote

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
	"sync"
	"time"

	"github.com/dukerupert/starchart/internal/model"
)

// ErrNotConfigured is returned when no base URL was given.
var ErrNotConfigured = errors.New("remote url not configured")

// Config holds remote client configuration.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

// Client implements the sync remote against a starhub-compatible API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.RWMutex
	offline     bool
	lastContact time.Time
}

// NewClient creates a new remote client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// FetchDailyStars returns every daily_stars row for a child.
func (c *Client) FetchDailyStars(ctx context.Context, childID string) ([]model.DailyStarRow, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	u := c.cfg.BaseURL + "/api/daily-stars?child_id=" + url.QueryEscape(childID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch daily stars: %w", err)
	}
	defer resp.Body.Close()

	var rows []model.DailyStarRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rows == nil {
		rows = []model.DailyStarRow{}
	}
	return rows, nil
}

// UpsertDailyStars writes one row, keyed by child, day and area.
func (c *Client) UpsertDailyStars(ctx context.Context, row model.DailyStarRow) error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cfg.BaseURL+"/api/daily-stars", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("upsert daily stars: %w", err)
	}
	resp.Body.Close()
	return nil
}

// do sends the request and records reachability. Any non-2xx status is an
// error.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOffline(true)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		c.setOffline(true)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	c.setOffline(false)
	return resp, nil
}

func (c *Client) setOffline(offline bool) {
	c.mu.Lock()
	c.offline = offline
	if !offline {
		c.lastContact = time.Now()
	}
	c.mu.Unlock()
}

// Offline reports whether the last request failed.
func (c *Client) Offline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offline
}

// LastContact returns the time of the last successful request.
func (c *Client) LastContact() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastContact
}
