package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tidemark/internal/domain"
	"tidemark/internal/stream"
)

type fakeRunner struct {
	name     string
	startErr error
	stopWait time.Duration

	started atomic.Bool
	stopped atomic.Bool
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeRunner) Stop() {
	if f.stopWait > 0 {
		time.Sleep(f.stopWait)
	}
	f.stopped.Store(true)
}

func (f *fakeRunner) Stats() stream.Stats {
	st := stream.StateStreaming
	if !f.started.Load() || f.stopped.Load() {
		st = stream.StateClosed
	}
	return stream.Stats{State: st}
}

func TestCoordinatorStartAll(t *testing.T) {
	a := &fakeRunner{name: "a"}
	b := &fakeRunner{name: "b"}
	c := NewCoordinator([]StreamRunner{a, b}, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.started.Load() || !b.started.Load() {
		t.Error("not every runner was started")
	}

	c.Stop()
	if !a.stopped.Load() || !b.stopped.Load() {
		t.Error("not every runner was stopped")
	}
}

func TestCoordinatorStartFailureUnwinds(t *testing.T) {
	a := &fakeRunner{name: "a"}
	b := &fakeRunner{name: "b", startErr: domain.ErrAuthFailed}
	c := NewCoordinator([]StreamRunner{a, b}, time.Second)

	err := c.Start(context.Background())
	if !errors.Is(err, domain.ErrAuthFailed) {
		t.Fatalf("Start err = %v, want ErrAuthFailed", err)
	}
	if !a.stopped.Load() {
		t.Error("already-started runner was not unwound")
	}
}

func TestCoordinatorStopBoundedByTimeout(t *testing.T) {
	slow := &fakeRunner{name: "slow", stopWait: 5 * time.Second}
	c := NewCoordinator([]StreamRunner{slow}, 100*time.Millisecond)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	begin := time.Now()
	c.Stop()
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, want it bounded by the 100ms timeout", elapsed)
	}
}

func TestCoordinatorStatus(t *testing.T) {
	a := &fakeRunner{name: "a"}
	c := NewCoordinator([]StreamRunner{a}, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	st := c.Status()
	if st["a"].State != stream.StateStreaming {
		t.Errorf("status state = %v, want streaming", st["a"].State)
	}
}
