// Package stream runs live subscription sessions: one Supervisor per
// provider connection, owning the session state machine, a bounded dispatch
// queue, and batched persistence.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tidemark/internal/domain"
	"tidemark/internal/provider"
	"tidemark/internal/store"
	"tidemark/internal/util"
)

// State is the lifecycle phase of a supervised stream session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticated
	StateSubscribed
	StateStreaming
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a point-in-time snapshot of a supervisor's counters.
type Stats struct {
	State        State
	Received     int64
	Written      int64
	Dropped      int64
	DecodeErrors int64
	Reconnects   int64
}

// Options tune a Supervisor. Zero values get sensible defaults.
type Options struct {
	QueueSize     int           // dispatch queue capacity in batches (default 256)
	MaxReconnects int           // consecutive reconnect attempts before giving up (default 8)
	FlushRecords  int           // flush the write buffer at this many records (default 500)
	FlushInterval time.Duration // flush at least this often (default 2s)
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 8
	}
	if o.FlushRecords <= 0 {
		o.FlushRecords = 500
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
}

// Supervisor owns one provider stream session: it drives the connection
// lifecycle, decodes frames, and persists records through a bounded queue so
// a slow store never blocks the socket reader. When the queue is full the
// oldest batch is evicted and counted, never the newest.
type Supervisor struct {
	prov    provider.StreamProvider
	store   store.RecordStore
	symbols []string
	opts    Options
	log     *slog.Logger

	state      atomic.Int32
	received   atomic.Int64
	written    atomic.Int64
	dropped    atomic.Int64
	decodeErrs atomic.Int64
	reconnects atomic.Int64

	queue      chan domain.RecordBatch
	stopCh     chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	stopOnce   sync.Once

	mu     sync.Mutex
	stream provider.Stream
}

// NewSupervisor creates a Supervisor for the given provider session and
// symbol set. Call Start to connect.
func NewSupervisor(p provider.StreamProvider, s store.RecordStore, symbols []string, opts Options) *Supervisor {
	opts.defaults()
	return &Supervisor{
		prov:       p,
		store:      s,
		symbols:    symbols,
		opts:       opts,
		log:        slog.Default().With("stream", p.Name()),
		queue:      make(chan domain.RecordBatch, opts.QueueSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Name identifies the supervised session.
func (sv *Supervisor) Name() string { return sv.prov.Name() }

// Stats returns a snapshot of the session counters.
func (sv *Supervisor) Stats() Stats {
	return Stats{
		State:        State(sv.state.Load()),
		Received:     sv.received.Load(),
		Written:      sv.written.Load(),
		Dropped:      sv.dropped.Load(),
		DecodeErrors: sv.decodeErrs.Load(),
		Reconnects:   sv.reconnects.Load(),
	}
}

// Start connects, authenticates, and subscribes, then hands the session to
// background goroutines. It returns only after the stream is live, so a nil
// error means the session reached the streaming phase. Credential rejection
// is returned as-is and is never retried.
func (sv *Supervisor) Start(ctx context.Context) error {
	if !sv.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return fmt.Errorf("stream %s: already started", sv.Name())
	}

	st, err := sv.connect(ctx)
	if err != nil {
		sv.state.Store(int32(StateClosed))
		close(sv.done)
		close(sv.writerDone)
		return err
	}

	go sv.writeLoop()
	go sv.run(ctx, st)
	return nil
}

// connect performs one full dial/auth/subscribe cycle and advances the state
// machine through its phases.
func (sv *Supervisor) connect(ctx context.Context) (provider.Stream, error) {
	sv.state.Store(int32(StateConnecting))
	st, err := sv.prov.OpenStream(ctx, sv.symbols)
	if err != nil {
		return nil, err
	}

	// OpenStream returns only after auth and subscribe are confirmed.
	sv.state.Store(int32(StateAuthenticated))
	sv.state.Store(int32(StateSubscribed))
	sv.state.Store(int32(StateStreaming))

	sv.mu.Lock()
	sv.stream = st
	sv.mu.Unlock()

	sv.log.Info("stream live", "symbols", len(sv.symbols))
	return st, nil
}

// run consumes frames until the session ends, reconnecting on transport
// drops with capped exponential backoff.
func (sv *Supervisor) run(ctx context.Context, st provider.Stream) {
	defer close(sv.done)
	defer close(sv.queue)

	backoff := &util.Backoff{Base: time.Second, Cap: 30 * time.Second}

	for {
		err := sv.consume(ctx, st)
		if err == nil {
			// Stop requested or context cancelled.
			sv.state.Store(int32(StateClosing))
			sv.state.Store(int32(StateClosed))
			return
		}
		if errors.Is(err, domain.ErrAuthFailed) {
			sv.log.Error("stream auth rejected, giving up", "err", err)
			sv.state.Store(int32(StateClosed))
			return
		}

		st = sv.reconnect(ctx, backoff, err)
		if st == nil {
			sv.state.Store(int32(StateClosed))
			return
		}
		backoff.Reset()
	}
}

// consume pumps one session's frames into the queue. A nil return means a
// deliberate shutdown; otherwise the session failed and may be reconnected.
func (sv *Supervisor) consume(ctx context.Context, st provider.Stream) error {
	for {
		select {
		case <-sv.stopCh:
			st.Close()
			return nil
		case <-ctx.Done():
			st.Close()
			return nil
		case frame, ok := <-st.Frames():
			if !ok {
				if err := st.Err(); err != nil {
					return err
				}
				return nil
			}

			batch, err := sv.prov.Decode(frame)
			if err != nil {
				sv.decodeErrs.Add(1)
				sv.log.Warn("frame decode", "err", err)
			}
			if batch.Len() == 0 {
				continue
			}
			sv.received.Add(int64(batch.Len()))
			sv.enqueue(batch)
		}
	}
}

// enqueue adds a batch to the dispatch queue, evicting the oldest batch when
// full so fresh data always wins.
func (sv *Supervisor) enqueue(batch domain.RecordBatch) {
	for {
		select {
		case sv.queue <- batch:
			return
		default:
		}
		select {
		case old := <-sv.queue:
			sv.dropped.Add(int64(old.Len()))
		default:
		}
	}
}

// reconnect runs bounded capped-backoff reconnect attempts. It returns the
// new stream, or nil when the budget is exhausted or shutdown began.
func (sv *Supervisor) reconnect(ctx context.Context, backoff *util.Backoff, cause error) provider.Stream {
	sv.state.Store(int32(StateReconnecting))
	sv.log.Warn("stream dropped, reconnecting", "err", cause)

	for attempt := 1; attempt <= sv.opts.MaxReconnects; attempt++ {
		delay := backoff.Next()
		select {
		case <-sv.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		sv.reconnects.Add(1)
		st, err := sv.connect(ctx)
		if err == nil {
			return st
		}
		if errors.Is(err, domain.ErrAuthFailed) {
			sv.log.Error("reconnect auth rejected, giving up", "err", err)
			return nil
		}
		sv.state.Store(int32(StateReconnecting))
		sv.log.Warn("reconnect failed", "attempt", attempt, "max", sv.opts.MaxReconnects, "err", err)
	}

	sv.log.Error("reconnect budget exhausted", "attempts", sv.opts.MaxReconnects)
	return nil
}

// writeLoop drains the dispatch queue into the store in batches, flushing on
// size or on a timer so quiet symbols still land promptly.
func (sv *Supervisor) writeLoop() {
	defer close(sv.writerDone)

	ticker := time.NewTicker(sv.opts.FlushInterval)
	defer ticker.Stop()

	var pending domain.RecordBatch
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		res, err := sv.store.WriteBatch(ctx, pending)
		cancel()
		if err != nil {
			sv.log.Error("batch write failed", "records", pending.Len(), "err", err)
		} else {
			sv.written.Add(int64(res.Inserted))
		}
		pending = domain.RecordBatch{}
	}

	for {
		select {
		case batch, ok := <-sv.queue:
			if !ok {
				flush()
				return
			}
			pending.Merge(batch)
			if pending.Len() >= sv.opts.FlushRecords {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Stop shuts the session down and waits for the writer to flush. It is safe
// to call multiple times and from multiple goroutines.
func (sv *Supervisor) Stop() {
	sv.stopOnce.Do(func() {
		close(sv.stopCh)
		sv.mu.Lock()
		if sv.stream != nil {
			sv.stream.Close()
		}
		sv.mu.Unlock()
	})
	<-sv.done
	<-sv.writerDone
}
