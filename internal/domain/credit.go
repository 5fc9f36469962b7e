package domain

import (
	"encoding/json"
	"time"
)

// TransactionKind enumerates credit ledger entry types.
type TransactionKind string

const (
	TransactionPurchase     TransactionKind = "purchase"
	TransactionDeduction    TransactionKind = "deduction"
	TransactionRefund       TransactionKind = "refund"
	TransactionSubscription TransactionKind = "subscription"
)

// CreditTransaction is an append-only ledger entry. Deductions and refunds
// carry the job they belong to; at most one of each exists per job.
type CreditTransaction struct {
	ID           string
	OwnerID      string
	Kind         TransactionKind
	Amount       int64
	BalanceAfter int64
	JobID        string
	Metadata     json.RawMessage
	CreatedAt    time.Time
}

// Signed returns the effect of the transaction on the owner's balance.
func (t CreditTransaction) Signed() int64 {
	if t.Kind == TransactionDeduction {
		return -t.Amount
	}
	return t.Amount
}
