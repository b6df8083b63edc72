package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/theatresync/internal/state"
)

// EventRecord is one received push envelope and what applying it did.
type EventRecord struct {
	Seq         int64
	Fingerprint string
	EntityKind  string
	Action      string
	EntityID    string
	Envelope    []byte
	Outcome     string
	ReceivedAt  time.Time
}

// SnapshotRecord is the entity store as it stood after the event with
// sequence Seq.
type SnapshotRecord struct {
	Seq      int64
	Reason   string
	Hash     string
	Snapshot state.Snapshot
	TakenAt  time.Time
}

// CommandRecord is the audited outcome of one user command.
type CommandRecord struct {
	Name      string
	CaseID    string
	Outcome   string
	Code      string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// AppendEvent inserts an event record.
// Uses ON CONFLICT(seq) DO NOTHING for idempotency - a seq already
// journaled is silently ignored.
func (s *Store) AppendEvent(ctx context.Context, rec EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(seq, fingerprint, entity_kind, action, entity_id, envelope, outcome, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		rec.Seq,
		rec.Fingerprint,
		rec.EntityKind,
		rec.Action,
		rec.EntityID,
		rec.Envelope,
		rec.Outcome,
		formatTime(rec.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// SaveSnapshot stores a snapshot as canonical JSON.
func (s *Store) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	data, err := marshalSnapshot(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (seq, reason, hash, snapshot, taken_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.Seq,
		rec.Reason,
		rec.Hash,
		data,
		formatTime(rec.TakenAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// AppendCommand inserts a command audit record.
func (s *Store) AppendCommand(ctx context.Context, rec CommandRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (name, case_id, outcome, code, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Name,
		rec.CaseID,
		rec.Outcome,
		rec.Code,
		rec.Error,
		formatTime(rec.StartedAt),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("append command: %w", err)
	}
	return nil
}
