// Package errs implements the closed error taxonomy from spec §7. Adapters,
// the Store, and every module boundary in this repository return one of
// these kinds instead of raising arbitrary errors; callers dispatch on kind
// with errors.As, following the teacher's crud.ActionError wrapping style.
package errs

import "fmt"

// TransientError wraps a retryable failure: network blips, rate limits,
// 5xx responses, timeouts. The originating SyncEvent is left PARTIAL and
// retried on the next run.
type TransientError struct {
	Op     string
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a non-retryable business-logic rejection: 4xx
// validation, "brand not accepted", bad credentials, a missing category
// mapping. The originating SyncEvent moves to ERROR with Reason recorded.
type PermanentError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent error during %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NotFoundError means the remote marketplace reports the listing no longer
// exists. Treated as success for MarkAsSold/remove intents; treated as
// consistency drift (a removed_listing event on the next run) for price and
// quantity intents.
type NotFoundError struct {
	Op         string
	ExternalID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: external id %q not found on platform", e.Op, e.ExternalID)
}

// ConflictError means a pending-event unique-index collision occurred on
// insert; this is not a failure, it means dedup worked, and it is silently
// ignored by the event writer.
type ConflictError struct {
	Platform   string
	ExternalID string
	ChangeType string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict inserting pending event (%s, %s, %s): already pending",
		e.Platform, e.ExternalID, e.ChangeType)
}

// FatalError means the database is unreachable or an invariant was
// violated. Only this kind escapes the reconciler/dispatcher to the
// coordinator, which aborts the run.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error during %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// MatchError means a new_listing event could not be linked to a local
// product with sufficient confidence. The event stays PENDING with its
// match candidate, awaiting operator resolution.
type MatchError struct {
	ExternalID string
	Reason     string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("no confident match for external id %q: %s", e.ExternalID, e.Reason)
}
