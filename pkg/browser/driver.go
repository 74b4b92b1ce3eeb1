// Package browser is the client for the shared remote-controlled browser,
// reached through its local debugging bridge endpoint. The browser is
// assumed to be pre-started; this package never spawns it.
//
// Cancellation over the bridge is best-effort: commands honor the request
// context, but a command already executing in the browser finishes on its
// own. Callers wrap browser stages in the per-run watchdog for that reason.
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/garagehq/advisor/pkg/faults"
)

// DefaultEndpoint is the bridge's local debugging endpoint.
const DefaultEndpoint = "http://127.0.0.1:18800"

// Driver issues commands to the shared browser. One driver is shared by all
// browser-backed adapters; tab ownership is arbitrated by pkg/tabs, not
// here.
type Driver struct {
	endpoint    string
	httpClient  *http.Client
	artifactDir string
}

// Status is the bridge's health report.
type Status struct {
	Running   bool   `json:"running"`
	Version   string `json:"version,omitempty"`
	TabCount  int    `json:"tab_count,omitempty"`
	Reachable bool   `json:"-"`
}

// NewDriver creates a driver for the given bridge endpoint. artifactDir
// receives screenshots; empty means $TMPDIR/advisor-artifacts.
func NewDriver(endpoint, artifactDir string) *Driver {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if artifactDir == "" {
		artifactDir = filepath.Join(os.TempDir(), "advisor-artifacts")
	}
	return &Driver{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		artifactDir: artifactDir,
	}
}

// ArtifactDir returns where screenshots are written.
func (d *Driver) ArtifactDir() string { return d.artifactDir }

// Health pings the bridge.
func (d *Driver) Health(ctx context.Context) Status {
	var st Status
	if err := d.get(ctx, "/health", &st); err != nil {
		return Status{}
	}
	st.Reachable = true
	return st
}

// OpenTab opens (or reuses) the logical tab for a platform and returns its
// tab id.
func (d *Driver) OpenTab(ctx context.Context, platform string) (string, error) {
	var resp struct {
		TabID string `json:"tab_id"`
	}
	err := d.post(ctx, "/tabs", map[string]any{"platform": platform}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TabID == "" {
		return "", faults.New(faults.CodeParseError, platform, "bridge returned empty tab id")
	}
	return resp.TabID, nil
}

// CloseTab closes a tab. Errors are reported but typically ignorable.
func (d *Driver) CloseTab(ctx context.Context, tabID string) error {
	return d.post(ctx, "/tabs/"+tabID+"/close", nil, nil)
}

// Navigate loads a URL in the tab.
func (d *Driver) Navigate(ctx context.Context, tabID, url string) error {
	return d.command(ctx, tabID, "navigate", map[string]any{"url": url}, nil)
}

// Fill types value into the element matching selector.
func (d *Driver) Fill(ctx context.Context, tabID, selector, value string) error {
	return d.command(ctx, tabID, "fill", map[string]any{"selector": selector, "value": value}, nil)
}

// Click clicks the element matching selector.
func (d *Driver) Click(ctx context.Context, tabID, selector string) error {
	return d.command(ctx, tabID, "click", map[string]any{"selector": selector}, nil)
}

// Text extracts the text content of the element matching selector.
func (d *Driver) Text(ctx context.Context, tabID, selector string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := d.command(ctx, tabID, "text", map[string]any{"selector": selector}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Extract runs a named extraction recipe in the tab and returns the raw JSON
// payload for the adapter to decode.
func (d *Driver) Extract(ctx context.Context, tabID, recipe string, args map[string]any) (json.RawMessage, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	payload := map[string]any{"recipe": recipe}
	for k, v := range args {
		payload[k] = v
	}
	if err := d.command(ctx, tabID, "extract", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Screenshot captures the tab and writes a PNG under the artifact dir,
// returning its path.
func (d *Driver) Screenshot(ctx context.Context, tabID, label string) (string, error) {
	var resp struct {
		PNGBase64 string `json:"png_base64"`
	}
	if err := d.command(ctx, tabID, "screenshot", nil, &resp); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(resp.PNGBase64)
	if err != nil {
		return "", faults.New(faults.CodeParseError, "", "decoding screenshot: %v", err)
	}
	if err := os.MkdirAll(d.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	path := filepath.Join(d.artifactDir,
		fmt.Sprintf("%s-%d.png", label, time.Now().UnixMilli()))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}

// PrintPDF renders the tab's current page to PDF under the artifact dir,
// returning its path.
func (d *Driver) PrintPDF(ctx context.Context, tabID, label string) (string, error) {
	var resp struct {
		PDFBase64 string `json:"pdf_base64"`
	}
	if err := d.command(ctx, tabID, "print_pdf", nil, &resp); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(resp.PDFBase64)
	if err != nil {
		return "", faults.New(faults.CodeParseError, "", "decoding pdf: %v", err)
	}
	if err := os.MkdirAll(d.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	path := filepath.Join(d.artifactDir, fmt.Sprintf("%s.pdf", label))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing pdf: %w", err)
	}
	return path, nil
}

// command posts one tab command and decodes the response into out.
func (d *Driver) command(ctx context.Context, tabID, name string, args map[string]any, out any) error {
	body := map[string]any{"command": name}
	for k, v := range args {
		body[k] = v
	}
	return d.post(ctx, "/tabs/"+tabID+"/command", body, out)
}

func (d *Driver) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+path, nil)
	if err != nil {
		return err
	}
	return d.do(req, out)
}

func (d *Driver) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, out)
}

// do executes a bridge request and classifies failures: connection problems
// are PLATFORM_DOWN (the browser is gone), timeouts are TIMEOUT, 5xx are
// TRANSIENT_5XX, and the bridge's own "stale tab" signal is STALE_TAB.
func (d *Driver) do(req *http.Request, out any) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		code := faults.CodeOf(err)
		if code == faults.CodeNetwork {
			return faults.Wrap(faults.CodePlatformDown, "", err)
		}
		return faults.Wrap(code, "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return faults.Wrap(faults.CodeNetwork, "", err)
	}

	switch {
	case resp.StatusCode == http.StatusGone:
		return faults.New(faults.CodeStaleTab, "", "bridge reports stale tab")
	case resp.StatusCode == http.StatusUnauthorized:
		return faults.New(faults.CodeAuthFailed, "", "bridge rejected request")
	case resp.StatusCode >= 500:
		return faults.New(faults.CodeTransient5xx, "", "bridge returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return faults.New(faults.CodePlatformDown, "", "bridge returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return faults.New(faults.CodeParseError, "", "decoding bridge response: %v", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
