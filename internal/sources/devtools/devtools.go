// Package devtools enumerates and closes browser tabs through the Chrome
// DevTools HTTP endpoint (chrome --remote-debugging-port).
package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/retry"
)

const (
	DefaultBaseURL = "http://127.0.0.1:9222"
	DefaultScope   = "page"
)

type target struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	ParentID    string `json:"parentId"`
	FaviconURL  string `json:"faviconUrl"`
}

type Client struct {
	client      *http.Client
	baseURL     string
	userAgent   string
	retry       retry.Config
	maxBodySize int64
}

func NewClient(timeout time.Duration, baseURL string) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		userAgent:   "culler/0.1",
		retry:       retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond},
		maxBodySize: 10 << 20, // 10 MiB
	}
}

// List returns the targets of the given type, "page" when scope is empty.
func (c *Client) List(ctx context.Context, scope string) ([]core.Resource, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = DefaultScope
	}

	var body []byte
	err := retry.Do(ctx, c.retry, func() error {
		status, b, err := c.get(ctx, "/json/list")
		if err != nil {
			return err
		}
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return fmt.Errorf("devtools transient error: status %d", status)
		}
		if status != http.StatusOK {
			return retry.Permanent(fmt.Errorf("devtools list failed: status %d: %s", status, strings.TrimSpace(string(b))))
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("devtools: %w", err)
	}

	var targets []target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("devtools: decode target list: %w", err)
	}

	resources := make([]core.Resource, 0, len(targets))
	for _, t := range targets {
		if t.Type != scope || t.ID == "" {
			continue
		}
		attrs := map[string]string{"type": t.Type}
		if t.Description != "" {
			attrs["description"] = t.Description
		}
		if t.ParentID != "" {
			attrs["parent_id"] = t.ParentID
		}
		if t.FaviconURL != "" {
			attrs["favicon_url"] = t.FaviconURL
		}
		resources = append(resources, core.Resource{
			ID:         t.ID,
			Scope:      t.Type,
			Location:   t.URL,
			Title:      t.Title,
			Attributes: attrs,
		})
	}
	return resources, nil
}

// Remove closes one target. It does not retry.
func (c *Client) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("devtools: target id is required")
	}
	status, body, err := c.get(ctx, "/json/close/"+url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("devtools: close %s: %w", id, err)
	}
	msg := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound || strings.Contains(msg, "No such target id"):
		return fmt.Errorf("devtools: close %s: %w", id, core.ErrNotFound)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return fmt.Errorf("devtools: close %s: %s: %w", id, msg, core.ErrPermissionDenied)
	default:
		return fmt.Errorf("devtools: close %s: status %d: %s", id, status, msg)
	}
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return 0, nil, err
	}
	if int64(len(body)) > c.maxBodySize {
		return 0, nil, fmt.Errorf("response too large")
	}
	return resp.StatusCode, body, nil
}
