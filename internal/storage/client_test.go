package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport captures every request and answers with a canned response.
type recordingTransport struct {
	requests []*http.Request
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.requests = append(rt.requests, req)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader([]byte(`{"secure_url":"https://res.example/x"}`))),
		Header:     make(http.Header),
	}, nil
}

func TestDisabledStorageIsNoop(t *testing.T) {
	c := New("", "", "", "attendance-sessions", true) // missing creds force disabled
	require.False(t, c.Enabled())

	ctx := context.Background()
	path, err := c.CreateFolder(ctx, "sess-1", "2025-03-10")
	assert.NoError(t, err)
	assert.Empty(t, path)

	url, err := c.Upload(ctx, "sess-1", "2025-03-10", []byte("x"), "a.jpg", "", "image/jpeg")
	assert.NoError(t, err)
	assert.Empty(t, url)

	ok, err := c.DeleteFolder(ctx, "sess-1", "2025-03-10")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionFolderPathConvention(t *testing.T) {
	c := New("cloud", "key", "secret", "attendance-sessions", true)
	assert.Equal(t, "attendance-sessions/2025-03-10/sess-1", c.SessionFolder("sess-1", "2025-03-10"))
}

func TestDeleteFolderPurgesImageAndRawAssets(t *testing.T) {
	rt := &recordingTransport{}
	c := New("cloud", "key", "secret", "root", true)
	c.HTTP = &http.Client{Transport: rt}

	ctx := context.Background()

	// Mirror a JSON export first: non-image content lands as a raw resource.
	_, err := c.Upload(ctx, "sess-1", "2025-03-10", []byte(`{}`), "snapshot.json", "snapshots", "application/json")
	require.NoError(t, err)
	require.Len(t, rt.requests, 1)
	assert.Contains(t, rt.requests[0].URL.Path, "/raw/upload")

	ok, err := c.DeleteFolder(ctx, "sess-1", "2025-03-10")
	require.NoError(t, err)
	assert.True(t, ok)

	var purged []string
	for _, req := range rt.requests[1:] {
		if req.Method == http.MethodDelete && req.URL.Query().Get("prefix") == "root/2025-03-10/sess-1" {
			purged = append(purged, req.URL.Path)
		}
	}
	assert.Contains(t, purged, "/v1_1/cloud/resources/image/upload")
	assert.Contains(t, purged, "/v1_1/cloud/resources/raw/upload")

	// Folder removal itself comes after the purges.
	last := rt.requests[len(rt.requests)-1]
	assert.Equal(t, http.MethodDelete, last.Method)
	assert.Equal(t, "/v1_1/cloud/folders/root/2025-03-10/sess-1", last.URL.Path)
}

func TestSignIsDeterministic(t *testing.T) {
	c := New("cloud", "key", "secret", "", true)
	params := map[string]string{"timestamp": "1700000000", "folder": "f", "api_key": "key"}
	assert.Equal(t, c.sign(params), c.sign(params))
	// api_key excluded from the signature, so changing it changes nothing.
	params["api_key"] = "other"
	assert.Equal(t, c.sign(map[string]string{"timestamp": "1700000000", "folder": "f"}), c.sign(params))
}
