package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned when an item's start is not strictly before
// its end. It is a local validation failure: no remote call is made.
var ErrInvalidRange = errors.New("schedule item start must be before end")

// FailureKind classifies why a reconciliation attempt failed.
type FailureKind string

const (
	// FailureInvalidRange is a local validation failure, correctable only
	// by editing the item.
	FailureInvalidRange FailureKind = "invalid_range"
	// FailureRemoteUnavailable is a transient network/service failure; retryable.
	FailureRemoteUnavailable FailureKind = "remote_unavailable"
	// FailureAuthExpired means the credential needs refresh before retrying.
	FailureAuthExpired FailureKind = "auth_expired"
	// FailureRemoteRejected means the remote declined the payload; retries
	// keep failing until the item is edited.
	FailureRemoteRejected FailureKind = "remote_rejected"
	// FailureRemoteNotFound means the remote event no longer exists. During
	// update and delete this drives the self-healing path, not an operator error.
	FailureRemoteNotFound FailureKind = "remote_not_found"
	// FailureStoreUnavailable means the local sync store itself could not be
	// reached; the batch treats this as systemic rather than per-item.
	FailureStoreUnavailable FailureKind = "store_unavailable"
)

// RemoteError wraps a failure from the remote calendar API with its
// classification and, when available, the HTTP status that produced it.
type RemoteError struct {
	Kind   FailureKind
	Status int
	Msg    string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("remote calendar: %s (%s)", e.Msg, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote calendar: %v (%s)", e.Err, e.Kind)
	}
	return fmt.Sprintf("remote calendar: %s", e.Kind)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError builds a classified remote failure.
func NewRemoteError(kind FailureKind, status int, msg string, err error) *RemoteError {
	return &RemoteError{Kind: kind, Status: status, Msg: msg, Err: err}
}

// Classify extracts the failure kind from an error chain. Unclassified
// errors (plain transport failures, timeouts) count as RemoteUnavailable.
func Classify(err error) FailureKind {
	if errors.Is(err, ErrInvalidRange) {
		return FailureInvalidRange
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return FailureRemoteUnavailable
}

// IsRemoteNotFound reports whether err classifies as a missing remote event.
func IsRemoteNotFound(err error) bool {
	return Classify(err) == FailureRemoteNotFound
}

// IsRetryable reports whether a later reconciliation run may succeed
// without the item being edited first.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case FailureRemoteUnavailable, FailureAuthExpired:
		return true
	default:
		return false
	}
}
