package engine

// State is the sync engine's position in its drain cycle.
type State int

const (
	// Idle means nothing is being sent. The engine waits for an
	// Offline→Online transition or a manual trigger.
	Idle State = iota

	// Draining means the engine is sending queued mutations in order.
	Draining

	// Backoff means the last send hit a network failure. The engine retries
	// after a bounded exponential delay, on the next Online report, or on a
	// manual trigger, whichever comes first.
	Backoff

	// AuthPaused means the server refused the bearer token. Draining stays
	// paused until ResumeAfterAuth is called.
	AuthPaused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Backoff:
		return "backoff"
	case AuthPaused:
		return "auth_paused"
	default:
		return "unknown"
	}
}
