package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

const (
	// clientGrace is added to the kernel-side exec timeout so the
	// kernel, not the HTTP layer, reports slow code.
	clientGrace = 5 * time.Second

	// metaTimeout bounds the small non-exec requests.
	metaTimeout = 10 * time.Second

	// snapshotTimeout bounds namespace serialization round trips.
	snapshotTimeout = 30 * time.Second
)

// Client is a typed HTTP client for the kernel contract.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a kernel client against baseURL. The http client is
// shared with the rest of the host.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// BaseURL returns the kernel endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type execRequest struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout"`
}

// Exec runs code in the kernel. The timeout travels to the kernel; the
// HTTP request gets it plus a grace period.
func (c *Client) Exec(ctx context.Context, code string, timeout time.Duration) (domain.ExecResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	body := execRequest{Code: code, Timeout: int(timeout.Seconds())}

	var result domain.ExecResult
	err := c.post(ctx, "/exec", body, &result, timeout+clientGrace)
	return result, err
}

// Vars lists user-defined kernel variables.
func (c *Client) Vars(ctx context.Context) ([]domain.VarInfo, error) {
	var vars []domain.VarInfo
	if err := c.get(ctx, "/vars", &vars, metaTimeout); err != nil {
		return nil, err
	}
	return vars, nil
}

type varValue struct {
	Value json.RawMessage `json:"value"`
	Error string          `json:"error"`
}

// GetVar returns one variable's value as formatted JSON.
// Returns domain.ErrNotFound for unknown names.
func (c *Client) GetVar(ctx context.Context, name string) (string, error) {
	var vv varValue
	if err := c.get(ctx, "/var/"+name, &vv, metaTimeout); err != nil {
		return "", err
	}
	if vv.Error != "" {
		return "", fmt.Errorf("%w: variable %q: %s", domain.ErrNotFound, name, vv.Error)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, vv.Value, "", "  "); err != nil {
		return string(vv.Value), nil
	}
	return pretty.String(), nil
}

// Health checks that the kernel responds.
func (c *Client) Health(ctx context.Context) error {
	var status struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", &status, 5*time.Second); err != nil {
		return err
	}
	if status.Status != "ok" {
		return fmt.Errorf("%w: kernel reported status %q", domain.ErrKernelUnavailable, status.Status)
	}
	return nil
}

type snapshotSaveResponse struct {
	Snapshot string   `json:"snapshot"`
	Saved    []string `json:"saved"`
	Skipped  []string `json:"skipped"`
}

// SnapshotSave asks the kernel to serialize its namespace. Returns the
// opaque base64 payload plus which variables made it in.
func (c *Client) SnapshotSave(ctx context.Context) (string, domain.RestoreResult, error) {
	var resp snapshotSaveResponse
	if err := c.post(ctx, "/snapshot/save", struct{}{}, &resp, snapshotTimeout); err != nil {
		return "", domain.RestoreResult{}, err
	}
	if resp.Snapshot == "" {
		return "", domain.RestoreResult{}, fmt.Errorf("%w: snapshot save returned no data", domain.ErrProtocol)
	}
	return resp.Snapshot, domain.RestoreResult{Restored: resp.Saved, Skipped: resp.Skipped}, nil
}

type snapshotRestoreRequest struct {
	Snapshot string `json:"snapshot"`
}

type snapshotRestoreResponse struct {
	Restored []string `json:"restored"`
	Skipped  []string `json:"skipped"`
	Error    string   `json:"error"`
}

// SnapshotRestore sends a serialized namespace back to the kernel.
// A kernel-reported error means the snapshot is corrupt.
func (c *Client) SnapshotRestore(ctx context.Context, snapshot string) (domain.RestoreResult, error) {
	var resp snapshotRestoreResponse
	if err := c.post(ctx, "/snapshot/restore", snapshotRestoreRequest{Snapshot: snapshot}, &resp, snapshotTimeout); err != nil {
		return domain.RestoreResult{}, err
	}
	if resp.Error != "" {
		return domain.RestoreResult{}, fmt.Errorf("%w: corrupt snapshot: %s", domain.ErrProtocol, resp.Error)
	}
	return domain.RestoreResult{Restored: resp.Restored, Skipped: resp.Skipped}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any, timeout time.Duration) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

// do executes a request and classifies failures into the kernel error
// taxonomy: transport, timeout, overload, protocol.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: kernel request %s", domain.ErrTimeout, req.URL.Path)
		}
		return fmt.Errorf("%w: kernel request %s: %v", domain.ErrTransport, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%w: reading kernel response: %v", domain.ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: kernel returned HTTP %d", domain.ErrOverloaded, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: kernel returned HTTP %d: %s", domain.ErrProtocol, resp.StatusCode, truncate(string(raw), 200))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding kernel response: %v", domain.ErrProtocol, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
