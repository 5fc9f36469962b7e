package domain

import "fmt"

// FailureKind is the closed set of reasons a job can fail for. Every kind is
// classified in Retryable; adding a kind without classifying it fails
// TestEveryFailureKindIsClassified.
type FailureKind string

const (
	FailureNone FailureKind = ""

	// Non-retryable.
	FailureInsufficientCredits FailureKind = "insufficient_credits"
	FailureInvalidInput        FailureKind = "invalid_input"
	FailurePolicyViolation     FailureKind = "policy_violation"
	FailureUserCancelled       FailureKind = "user_cancelled"
	FailureUnclassified        FailureKind = "unclassified"
	// The queue never accepted the job and the caller was told so.
	FailureSubmissionFailed    FailureKind = "submission_failed"

	// Retryable.
	FailureWorkerCrash         FailureKind = "worker_crash"
	FailureWorkerTimeout       FailureKind = "worker_timeout"
	FailureNetwork             FailureKind = "network"
	FailureProviderUnavailable FailureKind = "provider_unavailable"
	FailureQueueUnavailable    FailureKind = "queue_unavailable"
)

// FailureKinds lists every declared failure kind except FailureNone.
var FailureKinds = []FailureKind{
	FailureInsufficientCredits,
	FailureInvalidInput,
	FailurePolicyViolation,
	FailureUserCancelled,
	FailureUnclassified,
	FailureSubmissionFailed,
	FailureWorkerCrash,
	FailureWorkerTimeout,
	FailureNetwork,
	FailureProviderUnavailable,
	FailureQueueUnavailable,
}

// Retryable reports whether a failure of this kind may be retried. Unknown
// kinds are never retryable.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureWorkerCrash, FailureWorkerTimeout, FailureNetwork,
		FailureProviderUnavailable, FailureQueueUnavailable:
		return true
	case FailureInsufficientCredits, FailureInvalidInput, FailurePolicyViolation,
		FailureUserCancelled, FailureUnclassified, FailureSubmissionFailed:
		return false
	}
	return false
}

// classified reports whether k is handled explicitly by Retryable.
func (k FailureKind) classified() bool {
	for _, known := range FailureKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseFailureKind maps a wire tag to a FailureKind. Tags outside the closed set
// yield FailureUnclassified and an error so callers can log the surprise.
func ParseFailureKind(tag string) (FailureKind, error) {
	k := FailureKind(tag)
	if k.classified() {
		return k, nil
	}
	return FailureUnclassified, fmt.Errorf("unknown failure kind %q", tag)
}
