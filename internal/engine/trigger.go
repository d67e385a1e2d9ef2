package engine

// trigger is a coalescing wake-up signal for the Run loop.
//
// Any number of Fire calls before the loop wakes collapse into one drain.
// The buffer of 1 makes Fire non-blocking from any goroutine, including
// connectivity callbacks.
type trigger struct {
	signal chan struct{}
}

func newTrigger() *trigger {
	return &trigger{signal: make(chan struct{}, 1)}
}

// Fire requests a wake-up. Non-blocking.
func (t *trigger) Fire() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Clear drops a pending request. A drain calls it before each peek: the
// pending request is absorbed by the drain that is already running.
func (t *trigger) Clear() {
	select {
	case <-t.signal:
	default:
	}
}

// Wait returns the channel to select on.
func (t *trigger) Wait() <-chan struct{} {
	return t.signal
}
