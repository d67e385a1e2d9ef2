package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/djsync/internal/model"
)

// ErrBusy is returned by DrainOnce when another drain is running.
var ErrBusy = errors.New("drain already in progress")

// FailureReason categorizes why a mutation was moved to the failed list.
type FailureReason string

const (
	// ReasonValidation means the server rejected the mutation itself.
	ReasonValidation FailureReason = "VALIDATION"

	// ReasonDependencyFailed means the mutation addresses a record whose
	// create was rejected or never happened, so it can never be applied.
	ReasonDependencyFailed FailureReason = "DEPENDENCY_FAILED"
)

// DependencyError reports a mutation that cannot be sent because it still
// references a temporary id at dispatch time.
type DependencyError struct {
	Mutation model.Mutation
	Missing  model.ID
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %s was never created on the server", e.Mutation, e.Missing)
}

// IsDependencyError returns true if err is a DependencyError.
// Uses errors.As to handle wrapped errors.
func IsDependencyError(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}
