// Package engine implements the djsync sync engine.
//
// The engine drains the durable mutation queue to the server while the
// device is online. It is the only component that talks to the server on
// behalf of queued work.
//
// ARCHITECTURE:
//
// Single Drainer:
// Exactly one drain pass runs at a time. Run wakes on connectivity
// transitions, manual triggers, backoff expiry and the refresh tick; every
// wake-up funnels into the same guarded drain. Triggers that arrive while
// a pass is running are absorbed by it.
//
// Drain Pass:
//  1. PeekNext claims the head mutation and marks it in flight
//  2. dispatch sends it (type switch over the payload variants)
//  3. On success the mutation is dequeued and its ids reconciled in one
//     transaction
//  4. Validation failures move to the failed list and the pass continues
//  5. Network failures stop the pass in Backoff; auth failures in AuthPaused
//
// Connectivity is re-checked between mutations, never during one: a call
// already on the wire is allowed to finish.
//
// CRITICAL PATTERNS:
//
// Confirm Before Dequeue:
// A mutation leaves the queue only in the transaction that records the
// server's answer. A crash anywhere before that commit replays the
// mutation; creates carry their temporary id as idempotency key so the
// replay does not duplicate the record.
//
// Identifier Reconciliation:
// When a create returns, Reconcile rewrites the temporary id in the mirror,
// in queued mutations and, for journals, in child entries and their queued
// mutations.
package engine
