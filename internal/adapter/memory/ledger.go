package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditjobs/internal/domain"
)

// Ledger implements domain.CreditLedger. A single mutex serializes every
// balance mutation, matching the row lock the SQL ledger relies on.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
	txs      []domain.CreditTransaction
	// byJob guards deduction and refund uniqueness: key is kind + job id.
	byJob map[string]struct{}
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]int64),
		byJob:    make(map[string]struct{}),
	}
}

func (l *Ledger) Reserve(_ context.Context, ownerID, jobID string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byJob[jobKey(domain.TransactionDeduction, jobID)]; dup {
		return 0, domain.ErrDuplicateJob
	}
	balance := l.balances[ownerID]
	if balance < amount {
		return 0, &domain.InsufficientCreditsError{Required: amount, Available: balance}
	}
	balance -= amount
	l.balances[ownerID] = balance
	l.byJob[jobKey(domain.TransactionDeduction, jobID)] = struct{}{}
	l.appendTx(ownerID, domain.TransactionDeduction, amount, balance, jobID, nil)
	return balance, nil
}

func (l *Ledger) Refund(_ context.Context, ownerID, jobID string, amount int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, charged := l.byJob[jobKey(domain.TransactionDeduction, jobID)]; !charged {
		return false, nil
	}
	key := jobKey(domain.TransactionRefund, jobID)
	if _, done := l.byJob[key]; done {
		return false, nil
	}
	balance := l.balances[ownerID] + amount
	l.balances[ownerID] = balance
	l.byJob[key] = struct{}{}
	l.appendTx(ownerID, domain.TransactionRefund, amount, balance, jobID, nil)
	return true, nil
}

func (l *Ledger) Credit(_ context.Context, ownerID string, kind domain.TransactionKind, amount int64, metadata json.RawMessage) (int64, error) {
	if kind != domain.TransactionPurchase && kind != domain.TransactionSubscription {
		return 0, domain.Invalid("kind", "must be purchase or subscription")
	}
	if amount <= 0 {
		return 0, domain.Invalid("amount", "must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balances[ownerID] + amount
	l.balances[ownerID] = balance
	l.appendTx(ownerID, kind, amount, balance, "", metadata)
	return balance, nil
}

func (l *Ledger) Balance(_ context.Context, ownerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[ownerID], nil
}

// Transactions returns the owner's entries, newest first.
func (l *Ledger) Transactions(_ context.Context, ownerID string, limit int) ([]domain.CreditTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(l.txs) - 1; i >= 0; i-- {
		if l.txs[i].OwnerID != ownerID {
			continue
		}
		out = append(out, l.txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *Ledger) appendTx(ownerID string, kind domain.TransactionKind, amount, balance int64, jobID string, metadata json.RawMessage) {
	l.txs = append(l.txs, domain.CreditTransaction{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balance,
		JobID:        jobID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	})
}

func jobKey(kind domain.TransactionKind, jobID string) string {
	return string(kind) + ":" + jobID
}

var _ domain.CreditLedger = (*Ledger)(nil)
