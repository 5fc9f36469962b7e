package domain

import (
	"context"
	"encoding/json"
)

// JobRepository defines persistence for job records. Every status change goes
// through a compare-and-set so concurrent writers cannot both win.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Delete(ctx context.Context, jobID string) error
	SetQueueRef(ctx context.Context, jobID, ref string) error
	// Transition moves the job to `to` when its current status is one of
	// `from`, returning the updated record or ErrConflict.
	Transition(ctx context.Context, jobID string, from []JobStatus, to JobStatus, reason FailureKind, detail string) (*Job, error)
	// BeginRetry moves a failed job back to pending and increments its retry
	// count while retry_count < max_retries, or returns ErrConflict.
	BeginRetry(ctx context.Context, jobID string) (*Job, error)
	// MarkRefunded flips the refunded guard and reports whether this call won.
	MarkRefunded(ctx context.Context, jobID string) (bool, error)
	// ListByOwner returns the owner's most recent jobs, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Job, error)
}

// CreditLedger is the atomic balance store. Reserve and Refund are keyed by job
// so each job is charged and compensated at most once.
type CreditLedger interface {
	// Reserve checks balance >= amount, decrements it and logs a deduction in
	// one atomic step. It returns the balance after the deduction or an
	// *InsufficientCreditsError without side effects.
	Reserve(ctx context.Context, ownerID, jobID string, amount int64) (int64, error)
	// Refund credits amount back for jobID. It reports false when the job was
	// already refunded or was never charged, so it is safe to call again.
	Refund(ctx context.Context, ownerID, jobID string, amount int64) (bool, error)
	// Credit adds purchased or subscription credits.
	Credit(ctx context.Context, ownerID string, kind TransactionKind, amount int64, metadata json.RawMessage) (int64, error)
	Balance(ctx context.Context, ownerID string) (int64, error)
	Transactions(ctx context.Context, ownerID string, limit int) ([]CreditTransaction, error)
}
