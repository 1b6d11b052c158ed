// Package inference is the boundary between the audit engine and whatever
// actually runs a model. Backends speak HTTP or gRPC; Client adds model
// resolution, prompt truncation, and failure absorption on top.
package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/faults"
)

// Handle identifies a model loaded at the backend.
type Handle struct {
	ID        string // identifier the caller asked for
	Resolved  string // path or remote id the backend loaded
	Source    Source
	Reference bool
}

// Adapter is what the audit engine needs from an inference runtime.
type Adapter interface {
	// Load resolves id and makes it ready for Query, returning its footprint in MB.
	Load(ctx context.Context, id string, reference bool) (Handle, float64, error)
	// Query runs one greedy generation. Failures yield "".
	Query(ctx context.Context, h Handle, challenge string) string
	// Unload releases the model. Unloading an unknown model is not an error.
	Unload(ctx context.Context, h Handle) error
}

// GenerateRequest is one deterministic generation. Temperature is always zero.
type GenerateRequest struct {
	Model     string
	Prompt    string
	MaxTokens int
}

// Backend is a model runtime reachable over some transport.
type Backend interface {
	Load(ctx context.Context, model string) (sizeMB float64, err error)
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Unload(ctx context.Context, model string) error
	Close() error
}

// ResponseCache stores generated text keyed by prompt hash and model.
type ResponseCache interface {
	Get(promptHash, model string) ([]byte, bool)
	Put(promptHash, model string, response []byte) error
}

// Options tunes a Client.
type Options struct {
	MaxNewTokens    int
	MaxPromptTokens int
	Responses       ResponseCache
	HashPrompt      func(model, prompt string) string
}

// Client implements Adapter over a Backend. Handles that resolve to the same
// backend model share one load; the model is unloaded with its last handle.
type Client struct {
	backend  Backend
	resolver *Resolver
	opts     Options

	mu       sync.Mutex
	resident map[string]*residency
}

type residency struct {
	holders int
	sizeMB  float64
}

// NewClient wires a backend and resolver into an Adapter.
func NewClient(backend Backend, resolver *Resolver, opts Options) *Client {
	if opts.MaxNewTokens <= 0 {
		opts.MaxNewTokens = 100
	}
	if opts.MaxPromptTokens <= 0 {
		opts.MaxPromptTokens = 512
	}
	return &Client{backend: backend, resolver: resolver, opts: opts, resident: make(map[string]*residency)}
}

// Load implements Adapter.
func (c *Client) Load(ctx context.Context, id string, reference bool) (Handle, float64, error) {
	target, err := c.resolver.Resolve(id, reference)
	if err != nil {
		return Handle{}, 0, err
	}
	h := Handle{ID: id, Resolved: target.Path, Source: target.Source, Reference: reference}

	c.mu.Lock()
	if r, ok := c.resident[target.Path]; ok {
		r.holders++
		c.mu.Unlock()
		log.Debug(fmt.Sprintf("Model %s already loaded from %s (%d holders)", id, target.Path, r.holders))
		return h, r.sizeMB, nil
	}
	c.mu.Unlock()

	log.Info(fmt.Sprintf("Loading model %s from %s (%s)", id, target.Path, target.Source))
	size, err := c.backend.Load(ctx, target.Path)
	if err != nil {
		return Handle{}, 0, faults.Wrap(faults.KindResource, "load model", target.Path, err)
	}
	if size <= 0 {
		size = estimateSizeMB(target)
	}

	c.mu.Lock()
	if r, ok := c.resident[target.Path]; ok {
		r.holders++
		size = r.sizeMB
	} else {
		c.resident[target.Path] = &residency{holders: 1, sizeMB: size}
	}
	c.mu.Unlock()
	return h, size, nil
}

// Query implements Adapter.
func (c *Client) Query(ctx context.Context, h Handle, challenge string) string {
	prompt := TruncateTokens(challenge, c.opts.MaxPromptTokens)

	var hash string
	if c.opts.Responses != nil && c.opts.HashPrompt != nil {
		hash = c.opts.HashPrompt(h.Resolved, prompt)
		if cached, ok := c.opts.Responses.Get(hash, h.Resolved); ok {
			return string(cached)
		}
	}

	out, err := c.backend.Generate(ctx, GenerateRequest{
		Model:     h.Resolved,
		Prompt:    prompt,
		MaxTokens: c.opts.MaxNewTokens,
	})
	if err != nil {
		log.Warn(faults.Wrap(faults.KindInference, "query "+h.ID, "generation failed", err).Error())
		return ""
	}
	out = strings.TrimSpace(strings.TrimPrefix(out, prompt))

	if hash != "" && out != "" {
		if err := c.opts.Responses.Put(hash, h.Resolved, []byte(out)); err != nil {
			log.Debug(fmt.Sprintf("Response cache put failed: %v", err))
		}
	}
	return out
}

// Unload implements Adapter. The backend model stays loaded while another
// handle still holds the same resolved path.
func (c *Client) Unload(ctx context.Context, h Handle) error {
	c.mu.Lock()
	if r, ok := c.resident[h.Resolved]; ok {
		if r.holders > 1 {
			r.holders--
			c.mu.Unlock()
			log.Debug(fmt.Sprintf("Model %s still held at %s (%d holders)", h.ID, h.Resolved, r.holders))
			return nil
		}
		delete(c.resident, h.Resolved)
	}
	c.mu.Unlock()

	if err := c.backend.Unload(ctx, h.Resolved); err != nil {
		return faults.Wrap(faults.KindResource, "unload model", h.Resolved, err)
	}
	log.Info(fmt.Sprintf("Unloaded model %s", h.ID))
	return nil
}

// TruncateTokens keeps at most max whitespace-separated tokens. Text within
// the budget is returned unchanged.
func TruncateTokens(s string, max int) string {
	if max <= 0 {
		return s
	}
	fields := strings.Fields(s)
	if len(fields) <= max {
		return s
	}
	return strings.Join(fields[:max], " ")
}
