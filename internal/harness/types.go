package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Step  int    `json:"step"`
	Do    string `json:"do"`
	Ref   string `json:"ref,omitempty"`
	ID    string `json:"id,omitempty"`    // id returned or addressed
	Error string `json:"error,omitempty"` // error class, if the step failed
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Requests is the server's log of non-GET requests.
	Requests []string `json:"requests"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Requests: []string{},
		Errors:   []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
