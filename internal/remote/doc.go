// Package remote is the HTTP client for the journal backend.
//
// Each method maps to one endpoint and returns either the server's record
// or an *Error classified as network, validation or auth. The classification
// drives the sync engine: network errors are retried with backoff,
// validation errors move the mutation to the failed list, and auth errors
// pause syncing until the user logs in again.
//
// Creates carry an Idempotency-Key header holding the record's temporary
// id, so a replay after a crash returns the record the server already
// created instead of a duplicate.
package remote
