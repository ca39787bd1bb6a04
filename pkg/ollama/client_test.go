package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOllama(t *testing.T, format any, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hand-model", req["model"])
		assert.Equal(t, format, req["format"])

		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "hand-model",
			"message": map[string]any{"role": "assistant", "content": content},
			"done":    true,
		})
	}))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)

	c, err := NewClient("http://localhost:11434/api/chat")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestDetectHands(t *testing.T) {
	srv := fakeOllama(t, "json", "```json\n{\"hands\":[{\"confidence\":0.91,\"box\":{\"x\":0.2,\"y\":0.1,\"w\":0.5,\"h\":0.7}}]}\n```")
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	img := base64.StdEncoding.EncodeToString([]byte("fake-image"))
	res, err := c.DetectHands(context.Background(), "hand-model", "find hands", img)
	require.NoError(t, err)
	require.Len(t, res.Hands, 1)
	assert.Equal(t, 0.91, res.Hands[0].Confidence)
}

func TestDetectHandsRejectsBadBase64(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.DetectHands(context.Background(), "hand-model", "find hands", "%%%")
	assert.Error(t, err)
}

func TestSimpleQueryWithoutImage(t *testing.T) {
	srv := fakeOllama(t, nil, "two fingers")
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	text, err := c.SimpleQuery(context.Background(), "hand-model", "describe", "")
	require.NoError(t, err)
	assert.Equal(t, "two fingers", text)
}
