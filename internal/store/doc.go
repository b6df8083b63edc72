// Package store provides the SQLite-backed journal of a sync client.
//
// The journal is append-only and holds three logs:
//   - Events: every push envelope received, by local seq, with its
//     canonical fingerprint and the outcome of applying it
//   - Snapshots: the entity store as it stood after each resync
//   - Commands: the outcome of every user command
//
// # Ordering
//
// Events are ordered by seq, the engine's logical clock, never by
// timestamp. Queries return rows ORDER BY seq ASC so replay is
// deterministic regardless of wall time. A snapshot carries the seq of the
// last event applied before it was taken; replay starts there.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Snapshots are stored as RFC 8785 canonical JSON so equal stores produce
// byte-identical rows and hashes.
package store
