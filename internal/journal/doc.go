// Package journal is the write path for journals and entries.
//
// Every user action goes through Service. A write is sent straight to the
// server when that is safe: the network is up, the record has no queued
// mutations and no temporary id is involved. Anything else is applied to
// the local mirror optimistically and appended to the mutation queue in
// the same transaction; the sync engine replays it later.
//
// Deleting a record that never reached the server cancels its queued
// mutations instead of sending anything. The mutation the engine has on
// the wire is never cancelled; a delete is queued behind it instead.
package journal
