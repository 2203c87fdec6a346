// Package faceclient calls the remote face recognition service. The engine
// keeps an in-memory per-class face database that must be preloaded before a
// session and evicted after, plus per-student cache entries that drift unless
// synced on student mutations.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set all calls succeed without touching the
// network, which keeps dev environments usable without the engine.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face DB loads can take time
		},
	}
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PreloadClassDatabase asks the engine to warm its face database for a class.
// The engine treats repeated preloads for the same class as a refresh, so
// at-least-once delivery from the scheduler is safe.
func (c *Client) PreloadClassDatabase(ctx context.Context, classID string) error {
	return c.post(ctx, "/cache/class/preload", map[string]string{"class_id": classID})
}

// CleanupClassDatabase asks the engine to evict a class face database.
// Evicting a class that was never loaded is a no-op on the engine side.
func (c *Client) CleanupClassDatabase(ctx context.Context, classID string) error {
	return c.post(ctx, "/cache/class/cleanup", map[string]string{"class_id": classID})
}

// RefreshStudentCache re-reads a student's face data into the engine cache.
func (c *Client) RefreshStudentCache(ctx context.Context, studentID string) error {
	return c.post(ctx, "/cache/student/refresh", map[string]string{"student_id": studentID})
}

// ClearStudentCache evicts a single student from the engine cache.
func (c *Client) ClearStudentCache(ctx context.Context, studentID string) error {
	return c.post(ctx, "/cache/student/clear", map[string]string{"student_id": studentID})
}

// ClearAllCache evicts everything the engine has cached.
func (c *Client) ClearAllCache(ctx context.Context) error {
	return c.post(ctx, "/cache/clear", map[string]string{})
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]string) error {
	if c.Skip {
		return nil
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out ackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("face service rejected %s: %s", path, out.Message)
	}
	return nil
}
