package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CompletionRequest is an OpenAI-compatible text completion request.
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Echo        bool    `json:"echo"`
}

// CompletionResponse is an OpenAI-compatible text completion response.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

// CompletionChoice is a single completion choice.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// ModelRequest asks the runtime to load or unload a model.
type ModelRequest struct {
	Model string `json:"model"`
}

// LoadResponse reports a loaded model's footprint.
type LoadResponse struct {
	Model  string  `json:"model"`
	SizeMB float64 `json:"size_mb"`
}

// HTTPBackend talks to an OpenAI-compatible completion server that also
// exposes /v1/models/load and /v1/models/unload.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBackend creates a backend for baseURL.
func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration) (*HTTPBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid inference URL %q", baseURL)
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(u.String(), "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Load implements Backend.
func (b *HTTPBackend) Load(ctx context.Context, model string) (float64, error) {
	var resp LoadResponse
	if err := b.post(ctx, "/v1/models/load", ModelRequest{Model: model}, &resp); err != nil {
		return 0, err
	}
	return resp.SizeMB, nil
}

// Unload implements Backend.
func (b *HTTPBackend) Unload(ctx context.Context, model string) error {
	return b.post(ctx, "/v1/models/unload", ModelRequest{Model: model}, nil)
}

// Generate implements Backend.
func (b *HTTPBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var resp CompletionResponse
	err := b.post(ctx, "/v1/completions", CompletionRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Text, nil
}

// Close implements Backend.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return errors.Errorf("POST %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
