// Package store provides SQLite-backed durable storage for the sync engine.
//
// One database file holds:
//   - Records: the local mirror of journals and entries, keyed by (kind, id)
//   - Mutations: the ordered queue of writes awaiting replay
//   - Failed mutations: writes the server rejected, kept for the user
//   - ID map: temporary to permanent identifier assignments
//   - Meta: last sync time and the auth token
//
// # Atomicity
//
// Every write runs in a transaction behind a single write mutex. Callers that
// need several steps to commit together (reconcile an id and dequeue the
// mutation that produced it; apply an optimistic write and enqueue it) use
// Store.Update and call the same operations on the Tx it hands them.
//
// # Ordering
//
// Queue order is seq order, assigned by AUTOINCREMENT and never reused.
// Mirror listings follow insertion order (pos), which survives replace and
// rekey.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: A committed write survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
