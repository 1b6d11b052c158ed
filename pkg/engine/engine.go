// Package engine runs fingerprint audits: load a model, test a random sample
// of master fingerprints against it, and turn the match rate into a verdict.
//
// The engine does no admission control. How many audits run at once is the
// caller's decision; the HTTP server bounds it with max_concurrent_audits.
// AuditModel never returns an error; failures come back as verdict ERROR.
package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jfrog/jfrog-client-go/utils/log"
	"golang.org/x/sync/singleflight"

	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/faults"
	"github.com/UIDickinson/llm-identity/pkg/fingerprint"
	"github.com/UIDickinson/llm-identity/pkg/inference"
	"github.com/UIDickinson/llm-identity/pkg/match"
	"github.com/UIDickinson/llm-identity/pkg/modelcache"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

// Verdict thresholds on confidence (percent).
const (
	MatchThreshold      = 70.0
	SuspiciousThreshold = 30.0
)

// FingerprintSource provides the master fingerprint set.
type FingerprintSource interface {
	Master() *models.FingerprintSet
	ID() string
}

// Config holds the engine's tunables.
type Config struct {
	QuickSampleSize    int
	StandardSampleSize int
	DeepSampleSize     int
	SelfVerifySamples  int
	ProgressInterval   int
	// ReferenceModel keys the reference model in the cache.
	ReferenceModel string
}

// ConfigFrom extracts engine settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		QuickSampleSize:    cfg.Audit.QuickSampleSize,
		StandardSampleSize: cfg.Audit.StandardSampleSize,
		DeepSampleSize:     cfg.Audit.DeepSampleSize,
		SelfVerifySamples:  cfg.Audit.SelfVerifySamples,
		ProgressInterval:   cfg.Audit.ProgressInterval,
		ReferenceModel:     cfg.Models.BaseModel,
	}
}

// Engine orchestrates audits. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	cache   *modelcache.Cache
	adapter inference.Adapter
	source  FingerprintSource
	policy  match.Policy

	loads    singleflight.Group
	mu       sync.Mutex
	inflight map[models.ModelKey]int

	perm         func(n int) []int
	now          func() time.Time
	onTransition func(auditID string, from, to State)
}

// New creates an Engine. The cache must release payloads through
// ReleaseWith(adapter) so evicted models are unloaded.
func New(cfg Config, cache *modelcache.Cache, adapter inference.Adapter, source FingerprintSource, policy match.Policy) *Engine {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 10
	}
	if cfg.SelfVerifySamples <= 0 {
		cfg.SelfVerifySamples = 3
	}
	return &Engine{
		cfg:      cfg,
		cache:    cache,
		adapter:  adapter,
		source:   source,
		policy:   policy,
		inflight: make(map[models.ModelKey]int),
		perm:     rand.Perm,
		now:      time.Now,
	}
}

// ReleaseWith returns a cache Releaser that unloads inference handles.
func ReleaseWith(adapter inference.Adapter) modelcache.Releaser {
	return func(key models.ModelKey, payload any) {
		h, ok := payload.(inference.Handle)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := adapter.Unload(ctx, h); err != nil {
			log.Warn(fmt.Sprintf("Unload %s: %v", key, err))
		}
	}
}

// SampleSize returns the sample count for mode. Unknown modes use standard.
func (e *Engine) SampleSize(mode models.AuditMode) (models.AuditMode, int) {
	switch mode {
	case models.ModeQuick:
		return mode, e.cfg.QuickSampleSize
	case models.ModeDeep:
		return mode, e.cfg.DeepSampleSize
	case models.ModeStandard:
		return mode, e.cfg.StandardSampleSize
	}
	return models.ModeStandard, e.cfg.StandardSampleSize
}

type run struct {
	e        *Engine
	id       string
	state    State
	progress ProgressFunc
}

func (r *run) to(next State) {
	log.Debug(fmt.Sprintf("audit %s: %s -> %s", r.id, r.state, next))
	if r.e.onTransition != nil {
		r.e.onTransition(r.id, r.state, next)
	}
	r.state = next
}

func (r *run) notify(format string, args ...any) {
	if r.progress != nil {
		r.progress(fmt.Sprintf(format, args...))
	}
}

// AuditModel tests id against a sample of master fingerprints sized by mode.
// onProgress may be nil.
func (e *Engine) AuditModel(ctx context.Context, id string, mode models.AuditMode, onProgress ProgressFunc) (res models.AuditResult) {
	start := e.now()
	r := &run{e: e, id: uuid.NewString(), state: StateInit, progress: onProgress}
	res = models.AuditResult{
		ID:              r.id,
		ModelIdentifier: id,
		Timestamp:       start.UTC(),
	}

	var key models.ModelKey
	loaded := false
	defer func() {
		if p := recover(); p != nil {
			log.Error(fmt.Sprintf("audit %s of %s panicked in %s: %v", r.id, id, r.state, p))
			e.fail(r, &res, fmt.Errorf("internal error: %v", p))
		}
		if loaded {
			e.releaseAudit(key)
		}
		res.DurationSeconds = e.now().Sub(start).Seconds()
	}()

	mode, sampleSize := e.SampleSize(mode)
	res.Mode = mode

	master := e.source.Master()
	if master.Len() == 0 {
		e.fail(r, &res, faults.New(faults.KindProvisioning, "", "no master fingerprints available"))
		return res
	}
	res.FingerprintSetID = e.source.ID()

	r.to(StateLoadingModel)
	r.notify("Loading target model: %s...", id)
	key = models.ModelKey{ID: id}
	h, err := e.acquire(ctx, key)
	if err != nil {
		e.fail(r, &res, err)
		return res
	}
	loaded = true
	r.notify("Model loaded. Retrieving master fingerprints...")

	r.to(StateSampling)
	sample := e.sample(master, sampleSize)

	r.to(StateTesting)
	total := len(sample)
	r.notify("Testing %d fingerprints...", total)
	matches := 0
	res.Probes = make([]models.Probe, 0, total)
	for i, q := range sample {
		if err := ctx.Err(); err != nil {
			e.fail(r, &res, fmt.Errorf("audit cancelled after %d/%d: %w", i, total, err))
			return res
		}
		t0 := e.now()
		actual := e.adapter.Query(ctx, h, q)
		expected, _ := master.Response(q)
		ok := e.policy.Matches(expected, actual)
		if ok {
			matches++
		}
		res.Probes = append(res.Probes, models.Probe{
			Seq:        i,
			QueryHash:  fingerprint.HashChallenge(q),
			Matched:    ok,
			Similarity: match.Similarity(expected, actual),
			Empty:      actual == "",
			LatencyMs:  e.now().Sub(t0).Milliseconds(),
		})
		if (i+1)%e.cfg.ProgressInterval == 0 {
			r.notify("Progress: %d/%d tested", i+1, total)
		}
	}

	r.to(StateScoring)
	res.Matches = matches
	res.TotalTested = total
	res.Confidence = float64(matches) / float64(total) * 100
	res.Verdict = verdictFor(res.Confidence)

	r.to(StateCleanup)
	loaded = false
	e.releaseAudit(key)

	r.to(StateDone)
	elapsed := e.now().Sub(start).Seconds()
	r.notify("Audit complete in %.1fs", elapsed)
	log.Info(fmt.Sprintf("Audit %s of %s: %s (%d/%d, %.1f%%) in %.1fs",
		r.id, id, res.Verdict, matches, total, res.Confidence, elapsed))
	return res
}

func (e *Engine) fail(r *run, res *models.AuditResult, err error) {
	log.Error(fmt.Sprintf("Audit %s of %s failed in %s: %v", r.id, res.ModelIdentifier, r.state, err))
	r.to(StateError)
	res.Verdict = models.VerdictError
	res.Error = err.Error()
}

func verdictFor(confidence float64) models.Verdict {
	switch {
	case confidence >= MatchThreshold:
		return models.VerdictMatch
	case confidence >= SuspiciousThreshold:
		return models.VerdictSuspicious
	default:
		return models.VerdictNoMatch
	}
}

// sample draws min(n, len) queries uniformly without replacement.
func (e *Engine) sample(set *models.FingerprintSet, n int) []string {
	if n > set.Len() {
		n = set.Len()
	}
	idx := e.perm(set.Len())[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = set.Queries[j]
	}
	return out
}

// acquire returns a loaded handle for key and registers the caller as a user
// of it. Concurrent loads of the same key share one backend load.
func (e *Engine) acquire(ctx context.Context, key models.ModelKey) (h inference.Handle, err error) {
	e.mu.Lock()
	e.inflight[key]++
	e.mu.Unlock()

	acquired := false
	defer func() {
		if !acquired {
			e.drop(key)
		}
	}()
	h, err = e.load(ctx, key)
	acquired = err == nil
	return h, err
}

// releaseAudit drops the caller's claim on key and unloads the model once
// no audit is using it. Reference models are never unloaded here.
func (e *Engine) releaseAudit(key models.ModelKey) {
	if key.Reference {
		return
	}
	e.drop(key)
}

// drop decrements the claim count on key. The last claim on an audited model
// detaches it from the cache; the unload runs after e.mu is released.
func (e *Engine) drop(key models.ModelKey) {
	e.mu.Lock()
	if e.inflight[key]--; e.inflight[key] > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.inflight, key)
	release := e.detachUnclaimed(key)
	e.mu.Unlock()
	release()
}

// detachUnclaimed removes an audited model nobody holds. Caller holds e.mu.
func (e *Engine) detachUnclaimed(key models.ModelKey) func() {
	if key.Reference || e.inflight[key] > 0 {
		return func() {}
	}
	release, _ := e.cache.Detach(key)
	return release
}

// maxLoadAttempts bounds reloads of a model detached before its caller
// could claim it.
const maxLoadAttempts = 3

// load returns the cached handle for key or loads it.
func (e *Engine) load(ctx context.Context, key models.ModelKey) (inference.Handle, error) {
	for attempt := 1; ; attempt++ {
		if p, ok := e.cache.Get(key); ok {
			if h, ok := p.(inference.Handle); ok {
				return h, nil
			}
		}
		h, err := e.sharedLoad(ctx, key)
		if err != nil {
			return inference.Handle{}, err
		}
		if attempt == maxLoadAttempts || e.cache.Contains(key) {
			return h, nil
		}
		log.Debug(fmt.Sprintf("Model %s was released before it could be claimed; reloading", key))
	}
}

// sharedLoad runs one backend load per key for all concurrent callers. The
// load is not cancelled with any one caller; each caller stops waiting when
// its own ctx is done.
func (e *Engine) sharedLoad(ctx context.Context, key models.ModelKey) (inference.Handle, error) {
	if err := ctx.Err(); err != nil {
		return inference.Handle{}, err
	}
	shared := context.WithoutCancel(ctx)
	ch := e.loads.DoChan(key.String(), func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = faults.New(faults.KindResource, "load model", fmt.Sprintf("%s: %v", key.ID, p))
			}
		}()
		if p, ok := e.cache.Get(key); ok {
			return p, nil
		}
		h, size, err := e.adapter.Load(shared, key.ID, key.Reference)
		if err != nil {
			return nil, err
		}
		e.cache.Put(key, h, size)

		// Every waiter may have given up while the load ran.
		e.mu.Lock()
		release := e.detachUnclaimed(key)
		e.mu.Unlock()
		release()
		return h, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return inference.Handle{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return inference.Handle{}, res.Err
	}
	h, ok := res.Val.(inference.Handle)
	if !ok {
		return inference.Handle{}, faults.New(faults.KindResource, "load model", fmt.Sprintf("unexpected cache payload %T", res.Val))
	}
	return h, nil
}
