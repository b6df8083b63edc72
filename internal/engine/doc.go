// Package engine is the single logical execution context of the client.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every write to the entity store happens on the goroutine running
// Engine.Run. Push envelopes, command phases and resync results are queued
// events; the loop applies them one at a time, run-to-completion, so no two
// mutations ever interleave.
//
// Event Processing Flow:
//  1. The push client calls Deliver for each envelope; commands call Submit
//     for each optimistic or confirm/rollback phase.
//  2. Run dequeues events in FIFO order.
//  3. Push envelopes are stamped with Clock.Next, journaled, and handed to
//     the reconciler.
//  4. Session scopes the envelope touched are marked for the density watch.
//
// Resync:
// A resync fetches the authority's full state off the loop (with bounded
// retry) and replaces the store wholesale on the loop. Push envelopes that
// arrive while the fetch is outstanding are buffered and applied after the
// snapshot, in arrival order. Concurrent requests coalesce into at most one
// follow-up fetch.
//
// Remote calls never run on the loop; the loop suspends only between
// events.
package engine
