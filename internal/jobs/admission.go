// Package jobs implements the request path of paid generation jobs: admission,
// submission, status lookup, cancellation and the refund discipline they share
// with the recovery engine.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"creditjobs/internal/domain"
)

// Admission gates submissions on the owner's balance. The check, decrement and
// transaction log insert happen in one ledger call so concurrent submissions
// from the same owner cannot overdraw.
type Admission struct {
	ledger domain.CreditLedger
}

// NewAdmission creates an Admission backed by ledger.
func NewAdmission(ledger domain.CreditLedger) *Admission {
	return &Admission{ledger: ledger}
}

// Reserve charges cost to ownerID for jobID. It returns an
// *domain.InsufficientCreditsError when the balance is too low.
func (a *Admission) Reserve(ctx context.Context, ownerID, jobID string, cost int64) (int64, error) {
	if cost < 1 {
		return 0, domain.Invalid("cost", "must be at least 1")
	}
	balance, err := a.ledger.Reserve(ctx, ownerID, jobID, cost)
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return 0, insufficient
		}
		return 0, fmt.Errorf("reserve credits: %w", err)
	}
	return balance, nil
}
