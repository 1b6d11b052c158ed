package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/admission"
	"github.com/UIDickinson/llm-identity/pkg/history"
	"github.com/UIDickinson/llm-identity/pkg/models"
	"github.com/UIDickinson/llm-identity/pkg/server"
)

// CacheStater provides model cache statistics.
type CacheStater interface {
	Stats() models.CacheStats
}

// Deps are the collaborators behind the tools. History and Cache may be nil.
type Deps struct {
	Engine  server.Auditor
	History *history.Store
	Cache   CacheStater
	Limiter *admission.Limiter
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	deps    Deps
	version string

	mu  sync.Mutex
	out io.Writer
}

// New creates a new MCP Server.
func New(deps Deps, version string) *Server {
	if deps.Limiter == nil {
		deps.Limiter = admission.New(1)
	}
	return &Server{deps: deps, version: version}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled. Requests are handled one
// at a time; progress notifications may precede a tool's response.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.mu.Lock()
	s.out = w
	s.mu.Unlock()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(Response{
				JSONRPC: jsonrpcVersion,
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		s.write(*resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case methodInitialize:
		return s.handleInitialize(req)
	case methodInitialized, methodCancelled:
		return nil
	case methodPing:
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: struct{}{}}
	case methodToolsList:
		return s.handleToolsList(req)
	case methodToolsCall:
		return s.handleToolsCall(ctx, req)
	default:
		return &Response{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Result: InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
			Capabilities:    ServerCapabilities{},
			Instructions:    "Use guardian_audit to check a model for your embedded fingerprints. Audits run one at a time and stream progress as log messages.",
		},
	}
}

func (s *Server) handleToolsList(req *Request) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Result:  ToolsListResult{Tools: allTools},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Error:   &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
		}
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return &Response{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Result:  errorResult(fmt.Sprintf("unknown tool: %s", params.Name)),
		}
	}

	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Result:  handler(ctx, s, params.Arguments),
	}
}

// notify sends an info-level log notification to the client.
func (s *Server) notify(message string) {
	s.write(Notification{
		JSONRPC: jsonrpcVersion,
		Method:  methodLogMessage,
		Params:  LogMessageParams{Level: progressLevel, Logger: progressLogger, Data: message},
	})
}

func (s *Server) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error(fmt.Sprintf("mcp: marshal error: %v", err))
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	if _, err := s.out.Write(data); err != nil {
		log.Error(fmt.Sprintf("mcp: write error: %v", err))
	}
}
