package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jfrog/jfrog-client-go/utils/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UIDickinson/llm-identity/pkg/admission"
	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/engine"
	"github.com/UIDickinson/llm-identity/pkg/history"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

type fakeAuditor struct {
	block chan struct{}
}

func (f *fakeAuditor) Run(ctx context.Context, id string, mode models.AuditMode, n engine.Notifier) models.AuditResult {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	n.Progress("Loading target model: " + id + "...")
	res := models.AuditResult{
		ID:              "audit-" + id,
		ModelIdentifier: id,
		Mode:            mode,
		Timestamp:       time.Now(),
	}
	if id == "org/broken" {
		res.Verdict = models.VerdictError
		res.Error = "load failed"
		n.Error(errors.New(res.Error))
	} else {
		res.Verdict = models.VerdictMatch
		res.Matches, res.TotalTested, res.Confidence = 5, 5, 100
	}
	n.Result(res)
	return res
}

func (f *fakeAuditor) SelfVerify(context.Context) models.SelfVerification {
	return models.SelfVerification{Verified: true, FingerprintCount: 3}
}

type fakeSource struct{ n int }

func (s fakeSource) Master() *models.FingerprintSet {
	set := models.EmptyFingerprintSet()
	for i := 0; i < s.n; i++ {
		q := strings.Repeat("q", i+1)
		set.Queries = append(set.Queries, q)
		set.Responses[q] = "r"
	}
	return set
}

func (s fakeSource) ID() string { return "set-id" }

type fakeCache struct{}

func (fakeCache) Stats() models.CacheStats {
	return models.CacheStats{TotalItems: 1, TotalSizeMB: 1024, CapacityMB: 4096}
}

func newTestServer(t *testing.T, auditor *fakeAuditor, withHistory bool) (*Server, *history.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.CORSOrigins = []string{"http://localhost:3000"}

	var store *history.Store
	if withHistory {
		var err error
		store, err = history.Open(config.HistoryConfig{
			Enabled:       true,
			DBPath:        filepath.Join(t.TempDir(), "history.db"),
			RetentionDays: 30,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
	}
	return New(cfg, Deps{
		Engine:       auditor,
		Fingerprints: fakeSource{n: 4},
		Cache:        fakeCache{},
		History:      store,
		Limiter:      admission.New(1),
	}), store
}

func do(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["fingerprints_loaded"])
	assert.Equal(t, 4.0, body["fingerprint_count"])
	assert.Equal(t, "set-id", body["fingerprint_set_id"])
}

func TestAuditRecordsHistory(t *testing.T) {
	s, store := newTestServer(t, &fakeAuditor{}, true)
	w := do(t, s, http.MethodPost, "/api/v1/audit", `{"model_path":"org/model","mode":"quick"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.AuditResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.VerdictMatch, res.Verdict)
	assert.Equal(t, models.ModeQuick, res.Mode)
	assert.Equal(t, "org/model", res.ModelIdentifier)

	got, err := store.Query(context.Background(), models.AuditQueryOpts{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "audit-org/model", got[0].ID)
}

func TestAuditDefaultsToStandard(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodPost, "/api/v1/audit", `{"model_path":"org/model"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"standard"`)
}

func TestAuditValidation(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)

	cases := map[string]string{
		"bad path":  `{"model_path":"not a model","mode":"quick"}`,
		"bad mode":  `{"model_path":"org/model","mode":"exhaustive"}`,
		"empty":     `{}`,
		"not json":  `model`,
		"traversal": `{"model_path":"../../etc/passwd"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/audit", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "guardian_error")
		})
	}
}

func TestAuditAdmission(t *testing.T) {
	auditor := &fakeAuditor{block: make(chan struct{})}
	s, _ := newTestServer(t, auditor, false)

	done := make(chan int, 1)
	go func() {
		w := do(t, s, http.MethodPost, "/api/v1/audit", `{"model_path":"org/model"}`)
		done <- w.Code
	}()

	require.Eventually(t, func() bool {
		return s.deps.Limiter.Status().Active == 1
	}, 2*time.Second, 5*time.Millisecond)

	w := do(t, s, http.MethodPost, "/api/v1/audit", `{"model_path":"org/other"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	close(auditor.block)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, int64(0), s.deps.Limiter.Status().Active)
}

func readSSE(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if ev, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, ev)
		}
	}
	return events
}

func TestAuditStream(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)

	w := do(t, s, http.MethodPost, "/api/v1/audit/stream", `{"model_path":"org/model","mode":"deep"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{"progress", "result", "done"}, readSSE(t, w.Body.String()))
	assert.Contains(t, w.Body.String(), `"verdict":"MATCH"`)

	w = do(t, s, http.MethodPost, "/api/v1/audit/stream", `{"model_path":"org/broken"}`)
	assert.Equal(t, []string{"progress", "error", "result", "done"}, readSSE(t, w.Body.String()))
}

func TestAuditWebSocket(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/audit/ws?model_path=org/model&mode=quick"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frames []WSFrame
	for {
		var f WSFrame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		frames = append(frames, f)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, "progress", frames[0].Type)
	assert.Equal(t, "result", frames[1].Type)
	require.NotNil(t, frames[1].Result)
	assert.Equal(t, models.VerdictMatch, frames[1].Result.Verdict)
}

func TestAuditWebSocketRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodGet, "/api/v1/audit/ws?model_path=bad%20path", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelfVerifyEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodPost, "/api/v1/self-verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"verified":true`)
}

func TestGenerateFingerprints(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)

	w := do(t, s, http.MethodPost, "/api/v1/fingerprints/generate", `{"num_fingerprints":12,"key_length":8,"response_length":8}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var set models.FingerprintSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Len(t, set.Queries, 12)
	assert.Len(t, set.Responses, 12)

	w = do(t, s, http.MethodPost, "/api/v1/fingerprints/generate", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Len(t, set.Queries, 100)

	for _, body := range []string{
		`{"num_fingerprints":5}`,
		`{"num_fingerprints":10001}`,
		`{"key_length":7}`,
		`{"response_length":101}`,
	} {
		w = do(t, s, http.MethodPost, "/api/v1/fingerprints/generate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestGuide(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodGet, "/api/v1/fingerprints/guide", "")
	require.Equal(t, http.StatusOK, w.Code)
	var g models.SetupGuide
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Len(t, g.Steps, 5)
}

func TestHistoryEndpoints(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, true)
	do(t, s, http.MethodPost, "/api/v1/audit", `{"model_path":"org/model"}`)
	do(t, s, http.MethodPost, "/api/v1/audit", `{"model_path":"org/broken"}`)

	w := do(t, s, http.MethodGet, "/api/v1/history?verdict=ERROR&since=1h", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Audits []models.AuditResult `json:"audits"`
		Count  int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "org/broken", body.Audits[0].ModelIdentifier)

	w = do(t, s, http.MethodGet, "/api/v1/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/history?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/history/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"verdict":"MATCH"`)
}

func TestHistoryDisabled(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/v1/history", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/v1/history/stats", "").Code)
}

func TestCacheStats(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"capacity_mb":4096`)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/audit", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Server.CORSOrigins = []string{"*"}
	s := New(cfg, Deps{Engine: &fakeAuditor{}, Fingerprints: fakeSource{n: 1}, Cache: fakeCache{}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/audit", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	cfg.Server.CORSOrigins = []string{"*", "http://localhost:3000"}
	s = New(cfg, Deps{Engine: &fakeAuditor{}, Fingerprints: fakeSource{n: 1}, Cache: fakeCache{}})
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRequestLogging(t *testing.T) {
	original := log.GetLogger()
	var buf bytes.Buffer
	log.SetLogger(log.NewLogger(log.INFO, &buf))
	defer log.SetLogger(original)

	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	reqID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, reqID)
	assert.Contains(t, buf.String(), "GET /health 200")
	assert.Contains(t, buf.String(), "["+reqID+"]")
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeAuditor{}, false)
	w := do(t, s, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "guardian_error")
}
