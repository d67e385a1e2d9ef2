// Package model provides the record and mutation types shared by the sync
// engine, the local store and the remote client.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal.
//
// Key constraints:
//   - Every record is addressed by exactly one ID at a time
//   - Temporary IDs carry the "temp_" prefix and are never sent to the server
//     as a resource path or parent reference
//   - Mutation payloads form a closed set; see Payload
//   - All JSON tags use snake_case and match the backend wire format
package model
