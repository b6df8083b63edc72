// Package command is the command layer: every user-initiated operation is
// an optimistic local mutation, a remote request, and then either
// confirmation with the authority's canonical entities or rollback of
// exactly that command's own writes.
package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/engine"
	"github.com/roach88/theatresync/internal/metrics"
	"github.com/roach88/theatresync/internal/state"
	"github.com/roach88/theatresync/internal/store"
)

// Authority is the remote server of record. Implemented by *remote.Client.
type Authority interface {
	CreateCase(ctx context.Context, c domain.Case) (domain.Case, error)
	UpdateCase(ctx context.Context, c domain.Case) (domain.Case, error)
	DeleteCase(ctx context.Context, id string) error
	CreateSchedule(ctx context.Context, s domain.CaseSchedule) (domain.CaseSchedule, error)
	UpdateSchedule(ctx context.Context, s domain.CaseSchedule) (domain.CaseSchedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	ReorderSchedules(ctx context.Context, sessionID string, ids []string) ([]domain.CaseSchedule, error)
}

// Auditor records command outcomes. Implemented by *store.Store.
type Auditor interface {
	AppendCommand(ctx context.Context, rec store.CommandRecord) error
}

// Command outcomes recorded in the audit and metrics.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
	OutcomeAbandoned  = "abandoned"
)

// ReasonCompensation is the resync reason after a multi-step remote
// sequence failed part way.
const ReasonCompensation = "compensation"

// DefaultTimeout bounds a command's remote phase.
const DefaultTimeout = 10 * time.Second

// Commander runs commands against one engine and one authority.
type Commander struct {
	engine    *engine.Engine
	authority Authority
	ids       IDGenerator
	audit     Auditor
	metrics   *metrics.Metrics
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a Commander.
type Option func(*Commander)

// WithIDGenerator sets the id source for optimistically created entities.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Commander) { c.ids = g }
}

// WithAuditor records every command outcome.
func WithAuditor(a Auditor) Option {
	return func(c *Commander) { c.audit = a }
}

// WithMetrics counts command outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Commander) { c.metrics = m }
}

// WithTimeout bounds the remote phase. A command that does not hear back
// in time is rolled back.
func WithTimeout(d time.Duration) Option {
	return func(c *Commander) { c.timeout = d }
}

// WithNow overrides the wall clock used for entity timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Commander) { c.now = now }
}

// New creates a Commander.
func New(e *engine.Engine, a Authority, opts ...Option) *Commander {
	c := &Commander{
		engine:    e,
		authority: a,
		ids:       UUIDv7Generator{},
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// step is a planned command: the optimistic writes, the remote call, and
// how to turn the remote result into confirmed writes.
type step[R any] struct {
	muts []state.Mutation
	// scopes are the session scopes the optimistic writes touched; they are
	// density-checked after a rollback.
	scopes  []string
	remote  func(ctx context.Context) (R, error)
	confirm func(st *state.Store, r R) []state.Mutation
}

// partialError marks a remote failure that left some remote effects in
// place. The runner rolls back locally and then resyncs.
type partialError struct{ err error }

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

func partial(err error) error { return &partialError{err: err} }

type outcome[R any] struct {
	r   R
	err error
}

// run executes one command. plan runs on the loop and must only read the
// store. The remote phase runs off the loop and is not cancelled by ctx:
// once issued it proceeds to confirmation or rollback even if the caller
// stops waiting.
func run[R any](ctx context.Context, c *Commander, name, caseID string, plan func(st *state.Store) (step[R], error)) (R, error) {
	var zero R
	started := c.now()
	st := c.engine.Store()

	var (
		s       step[R]
		undo    state.Undo
		planErr error
	)
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	// Planning is not abandoned part way: once queued, the optimistic
	// writes and the remote phase always happen together.
	if err := c.engine.Submit(context.Background(), func() {
		s, planErr = plan(st)
		if planErr == nil {
			undo = st.Apply(state.OriginCommand, s.muts...)
		}
	}); err != nil {
		return zero, err
	}
	if planErr != nil {
		c.record(name, caseID, OutcomeRejected, started, planErr)
		return zero, planErr
	}

	done := make(chan outcome[R], 1)
	go func() {
		r, err := finish(c, name, caseID, started, s, undo)
		done <- outcome[R]{r: r, err: err}
	}()

	select {
	case o := <-done:
		return o.r, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// finish performs the remote phase and then confirms or rolls back on the
// loop.
func finish[R any](c *Commander, name, caseID string, started time.Time, s step[R], undo state.Undo) (R, error) {
	var zero R
	st := c.engine.Store()

	rctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	r, err := s.remote(rctx)
	cancel()

	if err != nil {
		var pe *partialError
		isPartial := errors.As(err, &pe)
		rollback := func() {
			restored, superseded := st.Revert(undo)
			slog.Debug("command rolled back",
				"command", name,
				"case_id", caseID,
				"restored", len(restored),
				"superseded", len(superseded),
			)
			c.engine.CheckScopes(s.scopes...)
			if isPartial {
				c.engine.RequestResync(ReasonCompensation)
			}
		}
		if serr := c.engine.Submit(context.Background(), rollback); serr != nil {
			c.record(name, caseID, OutcomeAbandoned, started, serr)
			return zero, serr
		}
		failure := domain.NewRemoteFailure(name, err)
		c.record(name, caseID, OutcomeRolledBack, started, failure)
		return zero, failure
	}

	confirm := func() {
		if s.confirm != nil {
			st.Apply(state.OriginConfirm, s.confirm(st, r)...)
		}
	}
	if serr := c.engine.Submit(context.Background(), confirm); serr != nil {
		c.record(name, caseID, OutcomeAbandoned, started, serr)
		return zero, serr
	}
	c.record(name, caseID, OutcomeConfirmed, started, nil)
	return r, nil
}

// record logs, counts and audits one command outcome.
func (c *Commander) record(name, caseID, outcome string, started time.Time, err error) {
	elapsed := c.now().Sub(started)
	c.metrics.Command(name, outcome)

	attrs := []any{"command", name, "case_id", caseID, "outcome", outcome, "duration", elapsed}
	if err != nil {
		attrs = append(attrs, "error", err)
		slog.Info("command failed", attrs...)
	} else {
		slog.Info("command confirmed", attrs...)
	}

	if c.audit == nil {
		return
	}
	rec := store.CommandRecord{
		Name:      name,
		CaseID:    caseID,
		Outcome:   outcome,
		StartedAt: started,
		Duration:  elapsed,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Code = string(domain.CodeOf(err))
	}
	if aerr := c.audit.AppendCommand(context.Background(), rec); aerr != nil {
		slog.Warn("command audit failed", "command", name, "error", aerr)
	}
}
