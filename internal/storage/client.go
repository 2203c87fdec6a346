// Package storage keeps captured session images and snapshot exports in
// Cloudinary. Storage is optional: when disabled every operation is a no-op
// returning empty results, never an error.
package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Client talks to the Cloudinary REST API.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	RootPath  string
	HTTP      *http.Client

	enabled bool
}

// New creates a storage client. Pass enabled=false to run without remote
// storage configured.
func New(cloudName, apiKey, apiSecret, rootPath string, enabled bool) *Client {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		enabled = false
	}
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		RootPath:  rootPath,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		enabled:   enabled,
	}
}

// Enabled reports whether remote storage calls are live.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// SessionFolder returns the folder path convention for a session:
// <root>/<date>/<sessionID>.
func (c *Client) SessionFolder(sessionID, date string) string {
	root := "attendance-sessions"
	if c != nil && c.RootPath != "" {
		root = c.RootPath
	}
	return fmt.Sprintf("%s/%s/%s", root, date, sessionID)
}

// CreateFolder materializes the session folder and returns its path.
func (c *Client) CreateFolder(ctx context.Context, sessionID, date string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	folder := c.SessionFolder(sessionID, date)
	url := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/folders/%s", c.CloudName, folder)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("storage: create request failed: %w", err)
	}
	req.SetBasicAuth(c.APIKey, c.APISecret)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("storage: create folder failed (%d): %s", resp.StatusCode, string(body))
	}
	return folder, nil
}

// Upload stores raw bytes under the session folder (optionally in a subfolder)
// and returns the public URL.
func (c *Client) Upload(ctx context.Context, sessionID, date string, data []byte, name, subfolder, contentType string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	folder := c.SessionFolder(sessionID, date)
	if subfolder != "" {
		folder += "/" + subfolder
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"api_key":   c.APIKey,
		"folder":    folder,
		"public_id": strings.TrimSuffix(name, "."+extOf(name)),
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("storage: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("storage: write file failed: %w", err)
	}
	w.Close()

	resource := "image"
	if !strings.HasPrefix(contentType, "image/") {
		resource = "raw"
	}
	url := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/%s/upload", c.CloudName, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("storage: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("storage: decode response failed: %w", err)
	}
	if result.SecureURL != "" {
		return result.SecureURL, nil
	}
	return result.URL, nil
}

// DeleteFolder removes the session folder and its contents.
func (c *Client) DeleteFolder(ctx context.Context, sessionID, date string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	folder := c.SessionFolder(sessionID, date)

	// Cloudinary requires the folder to be empty; purge contents by prefix first.
	if err := c.deleteByPrefix(ctx, folder); err != nil {
		return false, err
	}

	url := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/folders/%s", c.CloudName, folder)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return false, fmt.Errorf("storage: create request failed: %w", err)
	}
	req.SetBasicAuth(c.APIKey, c.APISecret)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("storage: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("storage: delete folder failed (%d): %s", resp.StatusCode, string(body))
	}
	return true, nil
}

// deleteByPrefix purges all assets under the folder. Uploads land as image or
// raw resources depending on content type, and each resource type has its own
// delete endpoint, so both must be purged.
func (c *Client) deleteByPrefix(ctx context.Context, prefix string) error {
	for _, resource := range []string{"image", "raw"} {
		url := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/resources/%s/upload?prefix=%s", c.CloudName, resource, prefix)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return fmt.Errorf("storage: create request failed: %w", err)
		}
		req.SetBasicAuth(c.APIKey, c.APISecret)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("storage: request failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("storage: purge %s assets failed (%d): %s", resource, resp.StatusCode, string(body))
		}
		resp.Body.Close()
	}
	return nil
}

// sign computes the Cloudinary API signature from the given params.
// api_key and file are excluded from the signature per Cloudinary spec.
func (c *Client) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return ""
}
