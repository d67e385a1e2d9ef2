package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session against the fake backend: writes made
// online and offline, scripted server failures, syncs and restarts,
// followed by assertions on what the server saw and what the device holds.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TempIDs are the temporary ids handed out in order, without the
	// "temp_" prefix (e.g. J1, E1).
	TempIDs []string `yaml:"temp_ids"`

	// Backend configures the fake server.
	Backend BackendSetup `yaml:"backend,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the request log and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// BackendSetup configures the fake server.
type BackendSetup struct {
	// NextID is the first permanent id the server assigns. Default 1.
	NextID int `yaml:"next_id,omitempty"`

	// Token, when set, is required on data calls and issued by login.
	Token string `yaml:"token,omitempty"`
}

// Step is one action. Do selects the action; the other fields are its
// arguments.
type Step struct {
	Do string `yaml:"do"`

	// Ref names the record the step creates or addresses.
	Ref string `yaml:"ref,omitempty"`
	// Journal is the ref of an entry's journal.
	Journal     string   `yaml:"journal,omitempty"`
	Title       string   `yaml:"title,omitempty"`
	Date        string   `yaml:"date,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Files       []string `yaml:"files,omitempty"`

	// Server scripting (fail, drop).
	Method     string `yaml:"method,omitempty"`
	Path       string `yaml:"path,omitempty"`
	Key        string `yaml:"key,omitempty"` // match on idempotency key
	Status     int    `yaml:"status,omitempty"`
	Message    string `yaml:"message,omitempty"`
	Times      int    `yaml:"times,omitempty"`
	AfterApply bool   `yaml:"after_apply,omitempty"`

	// Login credentials.
	Email    string `yaml:"email,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Error is the expected error class; empty means the step succeeds.
	// One of: invalid, not_found, offline, validation, auth, network.
	Error string `yaml:"error,omitempty"`
}

// Step actions.
const (
	DoOnline        = "online"
	DoOffline       = "offline"
	DoCreateJournal = "create_journal"
	DoUpdateJournal = "update_journal"
	DoDeleteJournal = "delete_journal"
	DoCreateEntry   = "create_entry"
	DoUpdateEntry   = "update_entry"
	DoDeleteEntry   = "delete_entry"
	DoSync          = "sync"
	DoRefresh       = "refresh"
	DoRestart       = "restart"
	DoFail          = "fail"
	DoDrop          = "drop"
	DoLogin         = "login"
	DoRetryFailed   = "retry_failed"
	DoDiscardFailed = "discard_failed"
)

// Assertion validates the outcome.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Ref names a record (resolves).
	Ref string `yaml:"ref,omitempty"`
	// Journal is the ref of the journal whose entries are checked.
	Journal string `yaml:"journal,omitempty"`

	// Values is the expected list, compared exactly and in order.
	Values []string `yaml:"values,omitempty"`
	// Count is the expected length when Values is not given.
	Count *int `yaml:"count,omitempty"`
	// Value is the expected scalar (resolves, state).
	Value string `yaml:"value,omitempty"`
}

// Assertion types.
const (
	// AssertRequests compares the server's log of non-GET requests.
	AssertRequests = "requests"
	// AssertPending compares the queue, one mutation per value.
	AssertPending = "pending"
	// AssertFailed compares the failed list, one mutation per value.
	AssertFailed = "failed"
	// AssertJournals compares local journals.
	AssertJournals = "journals"
	// AssertEntries compares local entries of Journal.
	AssertEntries = "entries"
	// AssertServerJournals compares the server's journals.
	AssertServerJournals = "server_journals"
	// AssertServerEntries compares the server's entries of Journal.
	AssertServerEntries = "server_entries"
	// AssertResolves checks the current id of Ref.
	AssertResolves = "resolves"
	// AssertState checks the sync engine state.
	AssertState = "state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, refs); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, refs); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, refs map[string]bool) error {
	needRef := func() error {
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, step.Do)
		}
		if !refs[step.Ref] {
			return fmt.Errorf("steps[%d]: unknown ref %q", i, step.Ref)
		}
		return nil
	}

	switch step.Do {
	case DoOnline, DoOffline, DoSync, DoRefresh, DoRestart:
	case DoCreateJournal:
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, step.Do)
		}
		refs[step.Ref] = true
	case DoCreateEntry:
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, step.Do)
		}
		if !refs[step.Journal] {
			return fmt.Errorf("steps[%d]: unknown journal ref %q", i, step.Journal)
		}
		refs[step.Ref] = true
	case DoUpdateJournal, DoDeleteJournal, DoUpdateEntry, DoDeleteEntry, DoRetryFailed, DoDiscardFailed:
		return needRef()
	case DoFail:
		if step.Status < 400 || step.Status > 599 {
			return fmt.Errorf("steps[%d]: fail needs an error status, got %d", i, step.Status)
		}
	case DoDrop:
	case DoLogin:
		if step.Email == "" {
			return fmt.Errorf("steps[%d]: email is required for login", i)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Do)
	}

	switch step.Error {
	case "", "invalid", "not_found", "offline", "validation", "auth", "network":
	default:
		return fmt.Errorf("steps[%d]: unknown error class %q", i, step.Error)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, refs map[string]bool) error {
	switch a.Type {
	case AssertRequests, AssertPending, AssertFailed, AssertJournals, AssertServerJournals:
	case AssertEntries, AssertServerEntries:
		if !refs[a.Journal] {
			return fmt.Errorf("assertions[%d]: unknown journal ref %q", index, a.Journal)
		}
	case AssertResolves:
		if !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
		}
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for resolves", index)
		}
		return nil
	case AssertState:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for state", index)
		}
		return nil
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Values == nil && a.Count == nil {
		return fmt.Errorf("assertions[%d]: values or count is required for %s", index, a.Type)
	}
	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
