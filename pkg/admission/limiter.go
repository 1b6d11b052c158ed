// Package admission bounds how many audits run at once. Each audit holds a
// model in memory for its whole duration, so the cap protects the host.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyAudits is returned when every audit slot is taken.
var ErrTooManyAudits = errors.New("too many concurrent audits")

// Limiter hands out a fixed number of audit slots.
type Limiter struct {
	sem    *semaphore.Weighted
	max    int64
	active atomic.Int64
}

// Status is a point-in-time view of slot usage.
type Status struct {
	Active int64 `json:"active"`
	Max    int64 `json:"max"`
}

// New creates a Limiter with max slots. max below one is treated as one.
func New(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

// TryAcquire takes a slot without waiting. The returned func releases it
// and is safe to call more than once.
func (l *Limiter) TryAcquire() (release func(), err error) {
	if !l.sem.TryAcquire(1) {
		return nil, ErrTooManyAudits
	}
	return l.releaser(), nil
}

// Acquire waits for a slot until ctx is done.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire audit slot: %w", err)
	}
	return l.releaser(), nil
}

// Status reports current usage.
func (l *Limiter) Status() Status {
	return Status{Active: l.active.Load(), Max: l.max}
}

func (l *Limiter) releaser() func() {
	l.active.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.active.Add(-1)
			l.sem.Release(1)
		}
	}
}
