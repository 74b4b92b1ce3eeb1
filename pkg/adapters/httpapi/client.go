// Package httpapi is the shared JSON-over-HTTPS client used by the API-class
// vendor adapters: bearer auth, response decoding, and failure
// classification into the closed taxonomy.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/garagehq/advisor/pkg/faults"
)

// Client wraps one vendor's HTTP API.
type Client struct {
	platform string
	baseURL  string
	http     *http.Client
	// Token returns the current bearer token; empty means unauthenticated.
	Token func() string
	// OnUnauthorized is invoked on a 401 so the session manager can mark
	// the platform degraded and heal it on next use.
	OnUnauthorized func()
}

// New creates a client for a vendor API.
func New(platform, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		platform: platform,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
	}
}

// Platform returns the adapter's source tag.
func (c *Client) Platform() string { return c.platform }

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Token != nil {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Wrap(faults.CodeOf(err), c.platform, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return faults.Wrap(faults.CodeNetwork, c.platform, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		if c.OnUnauthorized != nil {
			c.OnUnauthorized()
		}
		return faults.New(faults.CodeAuthFailed, c.platform, "vendor rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return faults.New(faults.CodeNotFound, c.platform, "%s", req.URL.Path)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return faults.New(faults.CodeTransient5xx, c.platform, "vendor returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return faults.New(faults.CodePlatformDown, c.platform, "vendor returned %d: %s", resp.StatusCode, snippet(data))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return faults.New(faults.CodeParseError, c.platform, "decoding response: %v", err)
	}
	return nil
}

func snippet(b []byte) string {
	const n = 160
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
