package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/UIDickinson/llm-identity/pkg/admission"
	"github.com/UIDickinson/llm-identity/pkg/engine"
	"github.com/UIDickinson/llm-identity/pkg/fingerprint"
	"github.com/UIDickinson/llm-identity/pkg/models"
	"github.com/UIDickinson/llm-identity/pkg/server"
)

// Tool argument structs.

type auditArgs struct {
	ModelPath string `json:"model_path"`
	Mode      string `json:"mode"`
}

type historyArgs struct {
	Model   string `json:"model"`
	Verdict string `json:"verdict"`
	Since   string `json:"since"`
	Limit   int    `json:"limit"`
}

type generateArgs struct {
	NumFingerprints int `json:"num_fingerprints"`
	KeyLength       int `json:"key_length"`
	ResponseLength  int `json:"response_length"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"guardian_audit":                 handleAudit,
	"guardian_self_verify":           handleSelfVerify,
	"guardian_history":               handleHistory,
	"guardian_cache_stats":           handleCacheStats,
	"guardian_generate_fingerprints": handleGenerate,
	"guardian_setup_guide":           handleSetupGuide,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "guardian_audit",
		Description: "Audit a model for the operator's embedded fingerprints and report a MATCH, SUSPICIOUS or NO_MATCH verdict.",
		InputSchema: objectSchema(map[string]Property{
			"model_path": {
				Type:        "string",
				Description: "Hub identifier (org/name) or local path of the model to audit",
			},
			"mode": {
				Type:        "string",
				Enum:        []string{string(models.ModeQuick), string(models.ModeStandard), string(models.ModeDeep)},
				Description: "Sample size: quick (50), standard (100) or deep (500). Defaults to standard.",
			},
		}, "model_path"),
	},
	{
		Name:        "guardian_self_verify",
		Description: "Check that the reference model still answers a few master fingerprints.",
		InputSchema: objectSchema(nil),
	},
	{
		Name:        "guardian_history",
		Description: "Search past audits, newest first.",
		InputSchema: objectSchema(map[string]Property{
			"model": {
				Type:        "string",
				Description: "Filter by audited model (optional)",
			},
			"verdict": {
				Type: "string",
				Enum: []string{
					string(models.VerdictMatch), string(models.VerdictSuspicious),
					string(models.VerdictNoMatch), string(models.VerdictError),
				},
				Description: "Filter by verdict (optional)",
			},
			"since": {
				Type:        "string",
				Description: "RFC 3339 time, YYYY-MM-DD date or duration like 24h (optional)",
			},
			"limit": {
				Type:        "integer",
				Description: "Maximum audits to return (default 20)",
				Minimum:     bound(1),
			},
		}),
	},
	{
		Name:        "guardian_cache_stats",
		Description: "Show resident models in the model cache with size and access telemetry.",
		InputSchema: objectSchema(nil),
	},
	{
		Name:        "guardian_generate_fingerprints",
		Description: "Generate a random-phrase fingerprint set to embed in your own model.",
		InputSchema: objectSchema(map[string]Property{
			"num_fingerprints": {
				Type:        "integer",
				Description: "Number of fingerprints (default 100)",
				Minimum:     bound(10),
				Maximum:     bound(10000),
			},
			"key_length": {
				Type:        "integer",
				Description: "Words per query (default 32)",
				Minimum:     bound(8),
				Maximum:     bound(100),
			},
			"response_length": {
				Type:        "integer",
				Description: "Words per response (default 32)",
				Minimum:     bound(8),
				Maximum:     bound(100),
			},
		}),
	},
	{
		Name:        "guardian_setup_guide",
		Description: "Show the steps for embedding fingerprints into a model.",
		InputSchema: objectSchema(nil),
	},
}

// progressNotifier relays engine progress as MCP log notifications.
type progressNotifier struct{ s *Server }

func (n progressNotifier) Progress(message string)     { n.s.notify(message) }
func (n progressNotifier) Result(_ models.AuditResult) {}
func (n progressNotifier) Error(_ error)               {}

func handleAudit(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args auditArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	model := server.Sanitize(args.ModelPath)
	if !server.ValidModelPath(model) {
		return errorResult("model_path must be an org/name identifier or an existing path")
	}
	mode, ok := server.ParseMode(server.Sanitize(args.Mode))
	if !ok {
		return errorResult("mode must be quick, standard or deep")
	}

	release, err := s.deps.Limiter.TryAcquire()
	if err != nil {
		if errors.Is(err, admission.ErrTooManyAudits) {
			return errorResult("Another audit is already running. Try again when it finishes.")
		}
		return errorResult(err.Error())
	}
	defer release()

	res := s.deps.Engine.Run(ctx, model, mode, progressNotifier{s: s})
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.History.Record(recordCtx, res); err != nil {
		s.notify("Could not record audit history: " + err.Error())
	}

	if res.Verdict == models.VerdictError {
		return errorResult(engine.Summary(res))
	}
	return textResult(engine.Summary(res))
}

func handleSelfVerify(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	v := s.deps.Engine.SelfVerify(ctx)
	if v.Error != "" {
		return errorResult("Self-verification failed: " + v.Error)
	}
	return textResult(formatSelfVerification(v))
}

func handleHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deps.History == nil {
		return textResult("Audit history is not enabled.")
	}
	var args historyArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	opts := models.AuditQueryOpts{
		Model:   server.Sanitize(args.Model),
		Verdict: models.Verdict(server.Sanitize(args.Verdict)),
		Limit:   args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if args.Since != "" {
		since, err := server.ParseSince(args.Since, time.Now())
		if err != nil {
			return errorResult(err.Error())
		}
		opts.Since = since
	}
	audits, err := s.deps.History.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching history: " + err.Error())
	}
	return textResult(formatAudits(audits))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.deps.Cache == nil {
		return textResult("Model cache is not available.")
	}
	return textResult(formatCacheStats(s.deps.Cache.Stats()))
}

func handleGenerate(_ context.Context, _ *Server, rawArgs json.RawMessage) ToolCallResult {
	args := generateArgs{NumFingerprints: 100, KeyLength: 32, ResponseLength: 32}
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	switch {
	case args.NumFingerprints < 10 || args.NumFingerprints > 10000:
		return errorResult("num_fingerprints must be between 10 and 10000")
	case args.KeyLength < 8 || args.KeyLength > 100:
		return errorResult("key_length must be between 8 and 100")
	case args.ResponseLength < 8 || args.ResponseLength > 100:
		return errorResult("response_length must be between 8 and 100")
	}
	set, err := fingerprint.Generate(fingerprint.GenerateOptions{
		Count:          args.NumFingerprints,
		KeyLength:      args.KeyLength,
		ResponseLength: args.ResponseLength,
	})
	if err != nil {
		return errorResult("Error generating fingerprints: " + err.Error())
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(fmt.Sprintf("Generated %d fingerprints. Keep this file secret.\n\n%s", set.Len(), data))
}

func handleSetupGuide(_ context.Context, _ *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatGuide(fingerprint.Guide()))
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}
