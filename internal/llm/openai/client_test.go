package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

func TestCanonicalURL(t *testing.T) {
	assert.Equal(t, "http://api.local/v1/chat/completions", CanonicalURL("http://api.local"))
	assert.Equal(t, "http://api.local/v1/chat/completions", CanonicalURL("http://api.local/"))
	assert.Equal(t, "http://api.local/v1/chat/completions", CanonicalURL("http://api.local/v1/chat/completions"))
	assert.Equal(t, "http://api.local/api/chat/completions", CanonicalURL("http://api.local/api/chat/completions"))
}

func newTestClient(baseURL string, retries int) *Client {
	return NewClient(settings.LLMConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "test-model",
		MaxTokens:  1024,
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	}, settings.HealthConfig{LLMPath: "/v1/models", OKStatuses: []int{200, 401}, Timeout: time.Second}, nil)
}

func TestInvokeSendsChatEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 2)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"indicators": [{"indicator": "血糖"}]}`}},
			},
		})
	}))
	defer srv.Close()

	text, err := newTestClient(srv.URL, 0).Invoke(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Contains(t, text, "血糖")
}

func TestInvokeEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Invoke(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, common.CodeLLMEmptyChoices, common.CodeOf(err))
}

func TestInvokeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Invoke(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, common.CodeLLMHTTP, common.CodeOf(err))
}

func TestInvokeMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Invoke(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, common.CodeLLMMalformed, common.CodeOf(err))
}

func TestInvokeUnconfiguredEndpoint(t *testing.T) {
	_, err := newTestClient("", 0).Invoke(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, common.CodeLLMHTTP, common.CodeOf(err))
}

func TestInvokeRetriesTransportErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Drop the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	text, err := newTestClient(srv.URL, 2).Invoke(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, calls)
}

func TestInvokeDoesNotRetryMalformed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("garbage"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Invoke(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHealthAccepts401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	assert.True(t, newTestClient(srv.URL, 0).Health(context.Background()))
}
