package admission

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTryAcquire(t *testing.T) {
	l := New(2)

	r1, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	r2, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if _, err := l.TryAcquire(); !errors.Is(err, ErrTooManyAudits) {
		t.Errorf("expected ErrTooManyAudits, got %v", err)
	}
	if st := l.Status(); st.Active != 2 || st.Max != 2 {
		t.Errorf("unexpected status %+v", st)
	}

	r1()
	r1()
	if st := l.Status(); st.Active != 1 {
		t.Errorf("double release should count once, active=%d", st.Active)
	}
	r3, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	r2()
	r3()
	if st := l.Status(); st.Active != 0 {
		t.Errorf("expected no active slots, got %d", st.Active)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := New(1)
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	l := New(1)
	release, _ := l.TryAcquire()

	got := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background())
		if err == nil {
			r()
		}
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	release()
	select {
	case err := <-got:
		if err != nil {
			t.Errorf("Acquire: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after release")
	}
}

func TestNewClampsMax(t *testing.T) {
	if st := New(0).Status(); st.Max != 1 {
		t.Errorf("expected max 1, got %d", st.Max)
	}
}
