package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/UIDickinson/llm-identity/pkg/fingerprint"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count := s.deps.Fingerprints.Master().Len()
	resp := map[string]any{
		"status":              "healthy",
		"service":             "guardian",
		"fingerprints_loaded": count > 0,
		"fingerprint_count":   count,
		"uptime_seconds":      int64(time.Since(s.started).Seconds()),
		"audits":              s.deps.Limiter.Status(),
	}
	if id := s.deps.Fingerprints.ID(); id != "" {
		resp["fingerprint_set_id"] = id
	}
	if s.deps.Cache != nil {
		st := s.deps.Cache.Stats()
		resp["cache"] = map[string]any{
			"total_items":   st.TotalItems,
			"total_size_mb": st.TotalSizeMB,
			"capacity_mb":   st.CapacityMB,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelfVerify(w http.ResponseWriter, r *http.Request) {
	release, ok := s.admit(w)
	if !ok {
		return
	}
	defer release()
	writeJSON(w, http.StatusOK, s.deps.Engine.SelfVerify(r.Context()))
}

type generateRequest struct {
	NumFingerprints int `json:"num_fingerprints"`
	KeyLength       int `json:"key_length"`
	ResponseLength  int `json:"response_length"`
}

// normalize fills defaults and checks bounds.
func (g *generateRequest) normalize() error {
	if g.NumFingerprints == 0 {
		g.NumFingerprints = 100
	}
	if g.KeyLength == 0 {
		g.KeyLength = 32
	}
	if g.ResponseLength == 0 {
		g.ResponseLength = 32
	}
	switch {
	case g.NumFingerprints < 10 || g.NumFingerprints > 10000:
		return errors.New("num_fingerprints must be between 10 and 10000")
	case g.KeyLength < 8 || g.KeyLength > 100:
		return errors.New("key_length must be between 8 and 100")
	case g.ResponseLength < 8 || g.ResponseLength > 100:
		return errors.New("response_length must be between 8 and 100")
	}
	return nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.normalize(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	set, err := fingerprint.Generate(fingerprint.GenerateOptions{
		Count:          req.NumFingerprints,
		KeyLength:      req.KeyLength,
		ResponseLength: req.ResponseLength,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fingerprint.Guide())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "audit history is disabled")
		return
	}
	q := r.URL.Query()
	opts := models.AuditQueryOpts{
		ID:      Sanitize(q.Get("id")),
		Model:   Sanitize(q.Get("model")),
		Verdict: models.Verdict(Sanitize(q.Get("verdict"))),
	}
	if v := q.Get("since"); v != "" {
		since, err := ParseSince(v, time.Now())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	audits, err := s.deps.History.Query(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if audits == nil {
		audits = []models.AuditResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits, "count": len(audits)})
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "audit history is disabled")
		return
	}
	stats, err := s.deps.History.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		stats = []models.AuditStat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "model cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

// ParseSince accepts an RFC 3339 timestamp, a YYYY-MM-DD date or a duration
// such as "24h" counted back from now.
func ParseSince(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	return time.Time{}, errors.New("invalid since: use RFC 3339, YYYY-MM-DD or a duration like 24h")
}
