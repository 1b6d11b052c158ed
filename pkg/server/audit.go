package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/admission"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

type auditRequest struct {
	ModelPath string `json:"model_path"`
	Mode      string `json:"mode"`
}

// parseAudit validates an audit request. On failure it returns the message
// to send with a 400.
func parseAudit(req auditRequest) (string, models.AuditMode, string) {
	model := Sanitize(req.ModelPath)
	if !ValidModelPath(model) {
		return "", "", "invalid model path"
	}
	mode, ok := ParseMode(Sanitize(req.Mode))
	if !ok {
		return "", "", "invalid audit mode"
	}
	return model, mode, ""
}

// admit takes an audit slot or writes a 429.
func (s *Server) admit(w http.ResponseWriter) (func(), bool) {
	release, err := s.deps.Limiter.TryAcquire()
	if errors.Is(err, admission.ErrTooManyAudits) {
		st := s.deps.Limiter.Status()
		writeJSONError(w, http.StatusTooManyRequests,
			fmt.Sprintf("too many concurrent audits (%d/%d running)", st.Active, st.Max))
		return nil, false
	}
	return release, true
}

// logNotifier serves plain JSON audits, where only the final result is sent.
type logNotifier struct{}

func (logNotifier) Progress(message string)     { log.Debug(message) }
func (logNotifier) Result(_ models.AuditResult) {}
func (logNotifier) Error(_ error)               {}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	model, mode, msg := parseAudit(req)
	if msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}
	release, ok := s.admit(w)
	if !ok {
		return
	}
	defer release()

	res := s.deps.Engine.Run(r.Context(), model, mode, logNotifier{})
	s.record(res)
	writeJSON(w, http.StatusOK, res)
}

// sseNotifier writes audit events as Server-Sent Events.
type sseNotifier struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (n *sseNotifier) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn(fmt.Sprintf("encode %s event: %v", event, err))
		return
	}
	fmt.Fprintf(n.w, "event: %s\ndata: %s\n\n", event, data)
	n.flusher.Flush()
}

func (n *sseNotifier) Progress(message string) {
	n.send("progress", map[string]string{"message": message})
}

func (n *sseNotifier) Result(r models.AuditResult) { n.send("result", r) }

func (n *sseNotifier) Error(err error) {
	n.send("error", map[string]string{"message": err.Error()})
}

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	var req auditRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	model, mode, msg := parseAudit(req)
	if msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}
	release, ok := s.admit(w)
	if !ok {
		return
	}
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	n := &sseNotifier{w: w, flusher: flusher}
	res := s.deps.Engine.Run(r.Context(), model, mode, n)
	s.record(res)
	n.send("done", map[string]string{"id": res.ID})
}

// WSFrame is one WebSocket message sent during an audit.
type WSFrame struct {
	Type    string              `json:"type"` // progress, result, error
	Message string              `json:"message,omitempty"`
	Result  *models.AuditResult `json:"result,omitempty"`
}

type wsNotifier struct {
	conn *websocket.Conn
}

func (n *wsNotifier) write(f WSFrame) {
	_ = n.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := n.conn.WriteJSON(f); err != nil {
		log.Debug(fmt.Sprintf("websocket write error: %v", err))
	}
}

func (n *wsNotifier) Progress(message string) {
	n.write(WSFrame{Type: "progress", Message: message})
}

func (n *wsNotifier) Result(r models.AuditResult) {
	n.write(WSFrame{Type: "result", Result: &r})
}

func (n *wsNotifier) Error(err error) {
	n.write(WSFrame{Type: "error", Message: err.Error()})
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.cfg.Server.CORSOrigins, origin)
		},
	}
}

func (s *Server) handleAuditWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	model, mode, msg := parseAudit(auditRequest{ModelPath: q.Get("model_path"), Mode: q.Get("mode")})
	if msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}
	release, ok := s.admit(w)
	if !ok {
		return
	}
	defer release()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warn(fmt.Sprintf("websocket upgrade error: %v", err))
		return
	}
	defer conn.Close()

	// The audit stops when the client goes away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug(fmt.Sprintf("websocket read error: %v", err))
				}
				return
			}
		}
	}()

	res := s.deps.Engine.Run(ctx, model, mode, &wsNotifier{conn: conn})
	s.record(res)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "audit complete"),
		time.Now().Add(time.Second))
}
