package inference

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

func newRuntime(t *testing.T) (*httptest.Server, *[]CompletionRequest) {
	t.Helper()
	var seen []CompletionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/load", func(w http.ResponseWriter, r *http.Request) {
		var req ModelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "org/missing" {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(LoadResponse{Model: req.Model, SizeMB: 15000})
	})
	mux.HandleFunc("/v1/models/unload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["temperature"]; !ok {
			http.Error(w, "temperature must be explicit", http.StatusBadRequest)
			return
		}
		data, _ := json.Marshal(raw)
		var req CompletionRequest
		_ = json.Unmarshal(data, &req)
		seen = append(seen, req)
		_ = json.NewEncoder(w).Encode(CompletionResponse{
			Choices: []CompletionChoice{{Text: " apple desk star"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestHTTPBackend(t *testing.T) {
	srv, seen := newRuntime(t)
	b, err := NewHTTPBackend(srv.URL+"/", "test-key", 5*time.Second)
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	size, err := b.Load(ctx, "org/model")
	require.NoError(t, err)
	assert.Equal(t, 15000.0, size)

	out, err := b.Generate(ctx, GenerateRequest{Model: "org/model", Prompt: "blue river", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, " apple desk star", out)
	require.Len(t, *seen, 1)
	assert.Equal(t, 0.0, (*seen)[0].Temperature)
	assert.Equal(t, 100, (*seen)[0].MaxTokens)
	assert.False(t, (*seen)[0].Echo)

	assert.NoError(t, b.Unload(ctx, "org/model"))
}

func TestHTTPBackendErrors(t *testing.T) {
	srv, _ := newRuntime(t)
	ctx := context.Background()

	b, err := NewHTTPBackend(srv.URL, "", time.Second)
	require.NoError(t, err)

	_, err = b.Load(ctx, "org/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	_, err = b.Generate(ctx, GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	_, err = NewHTTPBackend("not a url", "", time.Second)
	assert.Error(t, err)
}
