// Package harness replays offline sync scenarios end to end.
//
// A scenario drives the write path and the sync engine against a
// file-backed mirror store and a scripted fake server, then checks the
// final state of both sides.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offline_cascade
//	description: "Entry written under an offline journal syncs after it"
//	temp_ids: [J1, E1]
//	backend:
//	  next_id: 9
//	steps:
//	  - do: offline
//	  - do: create_journal
//	    ref: trip
//	    title: Trip
//	  - do: create_entry
//	    ref: day1
//	    journal: trip
//	    description: Arrived
//	  - do: online
//	  - do: sync
//	assertions:
//	  - type: resolves
//	    ref: day1
//	    value: "10"
//	  - type: pending
//	    count: 0
//
// Refs name records across steps. The write path allocates temporary ids
// from temp_ids in order, so traces do not depend on random ids.
//
// # Server Scripting
//
// fail and drop steps install rules on the fake server. A rule matches by
// method, path prefix and idempotency key and applies to the next times
// matching requests. drop with after_apply applies the write and then
// closes the connection, the way a response lost in transit looks.
//
// # Assertion Types
//
//   - requests: the server's write log, in arrival order
//   - pending: the local queue as "op kind id", in send order
//   - failed: the failed list as "op kind id REASON"
//   - journals, entries: the local mirror as "id label", sorted
//   - server_journals, server_entries: the server's records, same format
//   - resolves: the id a ref's temporary id maps to now
//   - state: the sync engine's state
//
// List assertions take values (exact match) or count.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offline_cascade.yaml")
//	require.NoError(t, err)
//	result, err := harness.RunWithGolden(t, scenario)
//	require.NoError(t, err)
//	assert.True(t, result.Pass, result.Errors)
package harness
