package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/theatresync/internal/reconcile"
	"github.com/roach88/theatresync/internal/schema"
	"github.com/roach88/theatresync/internal/state"
)

// ReplayResult is an entity store rebuilt from the journal.
type ReplayResult struct {
	Store *state.Store
	// FromSeq is the seq of the snapshot replay started from, 0 if none.
	FromSeq int64
	// LastSeq is the seq of the last event replayed.
	LastSeq int64
	// SnapshotHash is the stored hash of the starting snapshot.
	SnapshotHash string
	Applied      int
	Dropped      int
	// Resyncs lists the seqs of events that asked for a resync. Replay
	// cannot fetch, so it carries on from the adopted payload.
	Resyncs []int64
}

// Replay rebuilds the entity store from the latest snapshot plus every
// event journaled after it, applied in seq order through the same
// reconciler the engine uses. v may be nil to skip schema validation.
//
// Only server-originated state is journaled; optimistic command writes
// that were never confirmed by a push are not part of the result.
func (s *Store) Replay(ctx context.Context, v *schema.Validator) (ReplayResult, error) {
	res := ReplayResult{Store: state.New()}

	snap, ok, err := s.LatestSnapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}
	if ok {
		res.Store.Restore(state.OriginResync, snap.Snapshot)
		res.FromSeq = snap.Seq
		res.LastSeq = snap.Seq
		res.SnapshotHash = snap.Hash
	}

	events, err := s.EventsAfter(ctx, res.FromSeq)
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}

	r := reconcile.New(res.Store, v)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.LastSeq = ev.Seq
		out, err := r.HandlePush(ev.Envelope)
		if err != nil {
			slog.Debug("replay dropped event", "seq", ev.Seq, "error", err)
			res.Dropped++
			continue
		}
		res.Applied++
		if out.Resync != "" {
			res.Resyncs = append(res.Resyncs, ev.Seq)
		}
	}
	return res, nil
}
