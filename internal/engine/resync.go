package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/theatresync/internal/canonical"
	"github.com/roach88/theatresync/internal/state"
	"github.com/roach88/theatresync/internal/store"
)

// startResync begins a fetch unless one is already outstanding, in which
// case the request coalesces into a single follow-up. Called only from Run.
func (e *Engine) startResync(reason string) {
	if e.fetcher == nil {
		slog.Debug("resync requested without fetcher", "reason", reason)
		return
	}
	if e.resyncing {
		if e.resyncAgain == "" {
			e.resyncAgain = reason
		}
		return
	}

	e.resyncing = true
	e.metrics.Resync(reason)
	slog.Warn("resync started", "reason", reason, "seq", e.clock.Current())

	ctx := e.runCtx
	fetcher := e.fetcher
	policy := e.retry()
	go func() {
		var snap state.Snapshot
		op := func() error {
			var err error
			snap, err = fetcher.FetchState(ctx)
			return err
		}
		notify := func(err error, wait time.Duration) {
			slog.Warn("state fetch failed, retrying", "reason", reason, "wait", wait, "error", err)
		}
		err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
		ev := Event{Type: EventTypeResyncResult, Reason: reason, Err: err}
		if err == nil {
			ev.Snapshot = &snap
		}
		e.queue.Enqueue(ev)
	}()
}

// finishResync installs a fetched snapshot and replays envelopes buffered
// while the fetch was outstanding. Called only from Run.
func (e *Engine) finishResync(ctx context.Context, ev Event) error {
	e.resyncing = false
	e.lastResyncErr = ev.Err

	if ev.Err != nil {
		slog.Error("resync failed", "reason", ev.Reason, "error", ev.Err)
	} else {
		e.store.Restore(state.OriginResync, *ev.Snapshot)
		clear(e.dirty)
		slog.Info("resync complete",
			"reason", ev.Reason,
			"cases", len(ev.Snapshot.Cases),
			"sessions", len(ev.Snapshot.Sessions),
			"schedules", len(ev.Snapshot.Schedules),
		)
		if e.journal != nil {
			e.saveSnapshot(ctx, ev.Reason)
		}
	}

	pending := e.buffered
	e.buffered = nil
	for i, raw := range pending {
		if err := e.applyPush(ctx, raw); err != nil {
			slog.Warn("buffered event failed", "error", err)
		}
		if e.resyncing {
			// A buffered envelope started another fetch; the rest wait for it.
			e.buffered = append(e.buffered, pending[i+1:]...)
			break
		}
	}

	if again := e.resyncAgain; again != "" && !e.resyncing {
		e.resyncAgain = ""
		e.startResync(again)
	}
	return nil
}

func (e *Engine) saveSnapshot(ctx context.Context, reason string) {
	snap := e.store.Snapshot()
	hash, err := canonical.Hash(canonical.DomainSnapshot, snap)
	if err != nil {
		slog.Warn("snapshot hash failed", "error", err)
	}
	rec := store.SnapshotRecord{
		Seq:      e.clock.Current(),
		Reason:   reason,
		Hash:     hash,
		Snapshot: snap,
		TakenAt:  e.now(),
	}
	if err := e.journal.SaveSnapshot(ctx, rec); err != nil {
		slog.Warn("journal snapshot failed", "seq", rec.Seq, "error", err)
	}
}
