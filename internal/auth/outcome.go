// ABOUTME: Structured outcome returned by every AuthenticationManager operation
// ABOUTME: Status plus a non-leaky reason; the manager never panics across its boundary

package auth

import (
	"fmt"

	"github.com/2389/zgate/internal/session"
)

// Status is the coarse result of a manager operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Outcome is the structured result of a manager operation.
type Outcome struct {
	Status Status
	// Reason is safe to show to end users. It never says which credential
	// factor was wrong.
	Reason string
	// Context is the active context after the operation.
	Context session.ActiveContext
	// Identity is set on successful logins.
	Identity session.Identity
	// Err wraps one of the taxonomy sentinels on non-success outcomes.
	Err error
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

func success(ctx session.ActiveContext, id session.Identity) Outcome {
	return Outcome{Status: StatusSuccess, Context: ctx, Identity: id}
}

func failed(kind error, reason string) Outcome {
	return Outcome{
		Status: StatusFail,
		Reason: reason,
		Err:    fmt.Errorf("%w: %s", kind, reason),
	}
}

func errored(kind error, reason string, cause error) Outcome {
	err := fmt.Errorf("%w: %s", kind, reason)
	if cause != nil {
		err = fmt.Errorf("%w: %s: %v", kind, reason, cause)
	}
	return Outcome{Status: StatusError, Reason: reason, Err: err}
}

func pending(reason string) Outcome {
	return Outcome{Status: StatusPending, Reason: reason}
}
