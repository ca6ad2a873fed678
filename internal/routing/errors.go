package routing

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoEligibleProviders means filtering yielded zero candidates. Reported,
// not retried.
var ErrNoEligibleProviders = errors.New("no matching providers")

// ErrUnknownDeployment means the engine has no in-flight attempt for the id.
var ErrUnknownDeployment = errors.New("unknown deployment")

// ErrPaymentsNotConfigured means a paid attempt was requested but the engine
// was built without a payment sequencer.
var ErrPaymentsNotConfigured = errors.New("payment sequencer not configured")

// StateFailure wraps a collaborator failure with the state it occurred in.
type StateFailure struct {
	State State
	Err   error
}

func (e *StateFailure) Error() string {
	return fmt.Sprintf("routing failed in %s: %v", e.State, e.Err)
}

func (e *StateFailure) Unwrap() error { return e.Err }

// DeploymentCreateError means the provider network rejected or failed the
// create call.
type DeploymentCreateError struct {
	Err error
}

func (e *DeploymentCreateError) Error() string {
	return fmt.Sprintf("failed to create deployment: %v", e.Err)
}

func (e *DeploymentCreateError) Unwrap() error { return e.Err }

// BidTimeoutError means the deadline elapsed with zero bids. CleanupErr notes
// a best-effort close that also failed; it never masks the timeout itself.
type BidTimeoutError struct {
	DeploymentID string
	Waited       time.Duration
	CleanupErr   error
}

func (e *BidTimeoutError) Error() string {
	if e.CleanupErr != nil {
		return fmt.Sprintf("no bids for deployment %s within %s (cleanup also failed: %v)",
			e.DeploymentID, e.Waited, e.CleanupErr)
	}
	return fmt.Sprintf("no bids for deployment %s within %s", e.DeploymentID, e.Waited)
}
