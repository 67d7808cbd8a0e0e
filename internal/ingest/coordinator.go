// Package ingest owns process-level lifecycle for the live ingestion side:
// a Coordinator brings every configured stream session up together and tears
// them down together.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tidemark/internal/stream"
)

// StreamRunner is one supervised stream session as the Coordinator sees it.
type StreamRunner interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Stats() stream.Stats
}

// Coordinator starts and stops a fixed set of stream runners as a unit. It
// is constructed once per process.
type Coordinator struct {
	runners     []StreamRunner
	stopTimeout time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	started []StreamRunner
}

// NewCoordinator creates a Coordinator over the given runners. stopTimeout
// bounds how long Stop waits for all runners; zero means 15 seconds.
func NewCoordinator(runners []StreamRunner, stopTimeout time.Duration) *Coordinator {
	if stopTimeout <= 0 {
		stopTimeout = 15 * time.Second
	}
	return &Coordinator{
		runners:     runners,
		stopTimeout: stopTimeout,
		log:         slog.Default().With("component", "ingest"),
	}
}

// Start brings every runner up. If any fails, the ones already running are
// stopped and the error is returned: the process either streams everything
// it was configured for or nothing.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			c.log.Error("stream failed to start, unwinding", "stream", r.Name(), "err", err)
			for _, s := range c.started {
				s.Stop()
			}
			c.started = nil
			return fmt.Errorf("start stream %s: %w", r.Name(), err)
		}
		c.started = append(c.started, r)
		c.log.Info("stream started", "stream", r.Name())
	}
	return nil
}

// Stop signals every started runner and waits up to the stop timeout.
// Runners that miss the deadline are logged and abandoned rather than
// holding up process shutdown.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	started := c.started
	c.started = nil
	c.mu.Unlock()

	if len(started) == 0 {
		return
	}

	var wg sync.WaitGroup
	pending := make(map[string]*struct{ done bool })
	var pmu sync.Mutex

	for _, r := range started {
		pending[r.Name()] = &struct{ done bool }{}
		wg.Add(1)
		go func(r StreamRunner) {
			defer wg.Done()
			r.Stop()
			pmu.Lock()
			pending[r.Name()].done = true
			pmu.Unlock()
		}(r)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.log.Info("all streams stopped", "streams", len(started))
	case <-time.After(c.stopTimeout):
		pmu.Lock()
		for name, p := range pending {
			if !p.done {
				c.log.Warn("stream did not stop in time", "stream", name, "timeout", c.stopTimeout)
			}
		}
		pmu.Unlock()
	}
}

// Status reports a snapshot per runner, keyed by runner name.
func (c *Coordinator) Status() map[string]stream.Stats {
	out := make(map[string]stream.Stats, len(c.runners))
	for _, r := range c.runners {
		out[r.Name()] = r.Stats()
	}
	return out
}
