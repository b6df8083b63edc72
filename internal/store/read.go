package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastSeq returns the highest journaled event seq, or 0 for an empty
// journal. The engine's clock resumes after it.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM events
			UNION ALL
			SELECT seq FROM snapshots
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// LatestSnapshot returns the most recently saved snapshot. ok is false when
// no snapshot has been saved.
func (s *Store) LatestSnapshot(ctx context.Context) (rec SnapshotRecord, ok bool, err error) {
	var data, takenAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT seq, reason, hash, snapshot, taken_at
		FROM snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&rec.Seq, &rec.Reason, &rec.Hash, &data, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("latest snapshot: %w", err)
	}

	if rec.Snapshot, err = unmarshalSnapshot(data); err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	if rec.TakenAt, err = parseTime(takenAt); err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return rec, true, nil
}

// EventsAfter returns events with seq greater than after, in seq order.
func (s *Store) EventsAfter(ctx context.Context, after int64) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, fingerprint, entity_kind, action, entity_id, envelope, outcome, received_at
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("events after %d: %w", after, err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec        EventRecord
			receivedAt string
		)
		if err := rows.Scan(&rec.Seq, &rec.Fingerprint, &rec.EntityKind, &rec.Action,
			&rec.EntityID, &rec.Envelope, &rec.Outcome, &receivedAt); err != nil {
			return nil, fmt.Errorf("events after %d: %w", after, err)
		}
		if rec.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, fmt.Errorf("events after %d: %w", after, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events after %d: %w", after, err)
	}
	return out, nil
}

// RecentCommands returns up to limit command records, newest first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]CommandRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, case_id, outcome, code, error, started_at, duration_ms
		FROM commands
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			rec       CommandRecord
			startedAt string
			ms        int64
		)
		if err := rows.Scan(&rec.Name, &rec.CaseID, &rec.Outcome, &rec.Code, &rec.Error, &startedAt, &ms); err != nil {
			return nil, fmt.Errorf("recent commands: %w", err)
		}
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("recent commands: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent commands: %w", err)
	}
	return out, nil
}
