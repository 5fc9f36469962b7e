package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"creditjobs/internal/domain"
	"creditjobs/internal/infra"
	"creditjobs/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger on credit_balances and the
// append-only credit_transactions log.
type CreditLedgerPG struct {
	db    infra.TxExecutor
	newID func() string
}

// NewCreditLedger creates a ledger backed by PostgreSQL.
func NewCreditLedger(db infra.TxExecutor) *CreditLedgerPG {
	return &CreditLedgerPG{db: db, newID: uuid.NewString}
}

// Reserve charges amount for jobID in a single statement.
func (l *CreditLedgerPG) Reserve(ctx context.Context, ownerID, jobID string, amount int64) (int64, error) {
	var (
		balanceAfter *int64
		available    int64
	)
	err := l.db.QueryRow(ctx, sqlinline.QCreditReserve, ownerID, amount, l.newID(), jobID).Scan(&balanceAfter, &available)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrDuplicateJob
		}
		return 0, err
	}
	if balanceAfter == nil {
		return 0, &domain.InsufficientCreditsError{Required: amount, Available: available}
	}
	return *balanceAfter, nil
}

// Refund credits amount back for jobID once. Jobs that were never charged are
// not refunded.
func (l *CreditLedgerPG) Refund(ctx context.Context, ownerID, jobID string, amount int64) (bool, error) {
	applied := false
	err := l.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		var locked int64
		if err := tx.QueryRow(ctx, sqlinline.QCreditLockBalance, ownerID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// No balance row means nothing was ever deducted.
				return nil
			}
			return err
		}

		var txID string
		err := tx.QueryRow(ctx, sqlinline.QCreditInsertRefund, ownerID, jobID, l.newID(), amount).Scan(&txID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		var balance int64
		if err := tx.QueryRow(ctx, sqlinline.QCreditApplyRefund, ownerID, amount).Scan(&balance); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sqlinline.QCreditSetBalanceAfter, txID, balance); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("refund job %s: %w", jobID, err)
	}
	return applied, nil
}

// Credit adds purchased or subscription credits.
func (l *CreditLedgerPG) Credit(ctx context.Context, ownerID string, kind domain.TransactionKind, amount int64, metadata json.RawMessage) (int64, error) {
	if kind != domain.TransactionPurchase && kind != domain.TransactionSubscription {
		return 0, domain.Invalid("kind", "must be purchase or subscription")
	}
	if amount <= 0 {
		return 0, domain.Invalid("amount", "must be positive")
	}
	var balance int64
	err := l.db.QueryRow(ctx, sqlinline.QCreditGrant, ownerID, amount, l.newID(), string(kind), nullableBytes(metadata)).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance returns the owner's balance; unknown owners have zero.
func (l *CreditLedgerPG) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	if err := l.db.QueryRow(ctx, sqlinline.QCreditBalance, ownerID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Transactions returns the owner's ledger entries, newest first.
func (l *CreditLedgerPG) Transactions(ctx context.Context, ownerID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, sqlinline.QCreditTransactions, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CreditTransaction
	for rows.Next() {
		var (
			tx       domain.CreditTransaction
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &kind, &tx.Amount, &tx.BalanceAfter, &tx.JobID, &metadata, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = domain.TransactionKind(kind)
		if len(metadata) > 0 {
			tx.Metadata = json.RawMessage(metadata)
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
