package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/theatresync/internal/canonical"
	"github.com/roach88/theatresync/internal/metrics"
	"github.com/roach88/theatresync/internal/reconcile"
	"github.com/roach88/theatresync/internal/state"
	"github.com/roach88/theatresync/internal/store"
)

// PushHandler applies one raw push envelope to the store.
// Implemented by *reconcile.Reconciler.
type PushHandler interface {
	HandlePush(raw []byte) (reconcile.Result, error)
}

// Fetcher reads the authority's full state for a resync.
// Implemented by *remote.Client.
type Fetcher interface {
	FetchState(ctx context.Context) (state.Snapshot, error)
}

// Journal records applied envelopes and resync snapshots.
// Implemented by *store.Store.
type Journal interface {
	AppendEvent(ctx context.Context, rec store.EventRecord) error
	SaveSnapshot(ctx context.Context, rec store.SnapshotRecord) error
}

// Resync reasons raised by the engine itself.
const (
	ReasonDensity = "density"
	ReasonManual  = "manual"
)

// DefaultDensityGrace is how long a touched session scope may stay
// non-dense before a resync is requested.
const DefaultDensityGrace = 500 * time.Millisecond

// Event outcomes recorded in the journal and metrics.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeDropped = "dropped"
)

// Engine is the single-writer loop owning all writes to a state.Store.
//
// Thread-safety model:
//   - Deliver, Submit, RequestResync, Settle: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// Fields below the queue are touched only by the Run goroutine.
type Engine struct {
	store   *state.Store
	handler PushHandler
	fetcher Fetcher
	journal Journal
	metrics *metrics.Metrics
	clock   *Clock
	queue   *eventQueue
	grace   time.Duration
	retry   func() backoff.BackOff
	now     func() time.Time
	stopped chan struct{}

	runCtx        context.Context
	resyncing     bool
	resyncAgain   string
	buffered      [][]byte
	dirty         map[string]struct{}
	densityArmed  bool
	lastResyncErr error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock resumes the logical clock, e.g. after the journal's last seq.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithFetcher enables resync. Without a fetcher resync requests are logged
// and ignored.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithJournal records every applied envelope and resync snapshot.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics counts events and resyncs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDensityGrace sets the density watch interval. Zero checks touched
// scopes immediately after each envelope.
func WithDensityGrace(d time.Duration) Option {
	return func(e *Engine) { e.grace = d }
}

// WithResyncBackOff sets the retry policy for state fetches.
func WithResyncBackOff(f func() backoff.BackOff) Option {
	return func(e *Engine) { e.retry = f }
}

// WithNow overrides the wall clock used for journal timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine writing to st and applying push envelopes through h.
func New(st *state.Store, h PushHandler, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		handler: h,
		clock:   NewClock(),
		queue:   newEventQueue(),
		grace:   DefaultDensityGrace,
		retry:   defaultRetry,
		now:     time.Now,
		stopped: make(chan struct{}),
		runCtx:  context.Background(),
		dirty:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, 4)
}

// Store returns the store the engine writes to. Callers may read from it
// freely; writes must go through Submit.
func (e *Engine) Store() *state.Store { return e.store }

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Deliver queues one push envelope. Returns false once the engine stopped.
func (e *Engine) Deliver(raw []byte) bool {
	return e.queue.Enqueue(Event{Type: EventTypePush, Raw: raw})
}

// RequestResync queues a full resynchronization.
func (e *Engine) RequestResync(reason string) bool {
	return e.queue.Enqueue(Event{Type: EventTypeResync, Reason: reason})
}

// Submit runs fn on the loop and waits for it to finish. If ctx ends first
// Submit returns ctx.Err(), but fn still runs when its turn comes.
func (e *Engine) Submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(Event{Type: EventTypeTask, Task: fn, Done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Settle blocks until the queue is empty and no resync or density check is
// outstanding.
func (e *Engine) Settle(ctx context.Context) error {
	for {
		var busy bool
		if err := e.Submit(ctx, func() {
			busy = e.resyncing || e.densityArmed
		}); err != nil {
			return err
		}
		if !busy && e.queue.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Resync requests a full resynchronization and waits for it, and anything
// it triggers, to finish. Returns the error of the last fetch.
func (e *Engine) Resync(ctx context.Context, reason string) error {
	if e.fetcher == nil {
		return errors.New("engine: no fetcher configured")
	}
	if !e.RequestResync(reason) {
		return ErrStopped
	}
	if err := e.Settle(ctx); err != nil {
		return err
	}
	var last error
	if err := e.Submit(ctx, func() { last = e.lastResyncErr }); err != nil {
		return err
	}
	return last
}

// Run starts the single-writer event loop. Blocks until ctx is cancelled or
// Stop is called.
//
// On event processing failure the error is logged and processing
// continues; one bad envelope never halts the stream.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "seq", e.clock.Current())
	e.runCtx = ctx
	defer close(e.stopped)

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.release()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				e.release()
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is empty.
func (e *Engine) Stop() {
	e.queue.Close()
}

// release unblocks Submit callers whose tasks will never run.
func (e *Engine) release() {
	for _, ev := range e.queue.Drain() {
		if ev.Type == EventTypeTask {
			slog.Debug("dropping task on shutdown")
		}
	}
}

// processEvent routes an event to its handler. Called only from Run.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypePush:
		if e.resyncing {
			e.buffered = append(e.buffered, event.Raw)
			return nil
		}
		return e.applyPush(ctx, event.Raw)

	case EventTypeTask:
		defer close(event.Done)
		if event.Task == nil {
			return fmt.Errorf("task event missing function")
		}
		event.Task()
		return nil

	case EventTypeResync:
		e.startResync(event.Reason)
		return nil

	case EventTypeResyncResult:
		return e.finishResync(ctx, event)

	case EventTypeDensityCheck:
		e.densityArmed = false
		e.checkDensity()
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

// envelopeHead is the subset of an envelope needed to label a dropped one.
type envelopeHead struct {
	EntityKind string `json:"entity_kind"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
}

// applyPush stamps, journals and applies one envelope.
func (e *Engine) applyPush(ctx context.Context, raw []byte) error {
	seq := e.clock.Next()

	var head envelopeHead
	_ = json.Unmarshal(raw, &head)
	if head.EntityKind == "" {
		head.EntityKind = "unknown"
	}
	if head.Action == "" {
		head.Action = "unknown"
	}

	fingerprint, err := canonical.Fingerprint(canonical.DomainEnvelope, raw)
	if err != nil {
		fingerprint = ""
	}

	res, applyErr := e.handler.HandlePush(raw)
	outcome := OutcomeApplied
	switch {
	case applyErr != nil:
		outcome = OutcomeDropped
	case res.Noop:
		outcome = OutcomeNoop
	}

	e.metrics.Event(head.EntityKind, head.Action, outcome)
	if e.journal != nil {
		rec := store.EventRecord{
			Seq:         seq,
			Fingerprint: fingerprint,
			EntityKind:  head.EntityKind,
			Action:      head.Action,
			EntityID:    head.EntityID,
			Envelope:    raw,
			Outcome:     outcome,
			ReceivedAt:  e.now(),
		}
		if err := e.journal.AppendEvent(ctx, rec); err != nil {
			slog.Warn("journal append failed", "seq", seq, "error", err)
		}
	}

	if applyErr != nil {
		slog.Warn("dropping event",
			"seq", seq,
			"kind", head.EntityKind,
			"action", head.Action,
			"entity_id", head.EntityID,
			"error", applyErr,
		)
		return nil
	}

	slog.Debug("event applied",
		"seq", seq,
		"kind", res.Kind,
		"action", res.Action,
		"entity_id", res.EntityID,
		"noop", res.Noop,
	)

	e.markScopes(res.Touched)
	if res.Resync != "" {
		e.startResync(res.Resync)
	}
	return nil
}

func logEventError(event Event, err error) {
	slog.Error("event processing failed",
		"type", event.Type,
		"reason", event.Reason,
		"error", err,
	)
}
