package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, content string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "llama3-8b-8192",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	var got capturedRequest
	srv := completionServer(t, `{"riskLevel":"Low Risk"}`, &got)

	c, err := New(Options{BaseURL: srv.URL, APIKey: "test-key", Model: "llama3-8b-8192"})
	require.NoError(t, err)

	out, err := c.Complete(t.Context(), Request{
		Operation:   "analyze",
		Messages:    []Message{{Role: RoleUser, Content: "analyze this"}},
		Temperature: 0.5,
		MaxTokens:   4000,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"riskLevel":"Low Risk"}`, out)

	assert.Equal(t, "llama3-8b-8192", got.Model)
	assert.InDelta(t, 0.5, got.Temperature, 1e-6)
	assert.Equal(t, 4000, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "analyze this", got.Messages[0].Content)
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, APIKey: "test-key", Model: "m"})
	require.NoError(t, err)

	_, err = c.Complete(t.Context(), Request{Operation: "chat", Messages: []Message{{Role: RoleUser, Content: "q"}}})
	assert.Error(t, err)
}

func TestCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := New(Options{BaseURL: srv.URL, APIKey: "test-key", Model: "m", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Complete(t.Context(), Request{Operation: "analyze", Messages: []Message{{Role: RoleUser, Content: "q"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Options{Model: "m"})
	assert.Error(t, err)
	_, err = New(Options{APIKey: "k"})
	assert.Error(t, err)
}
