package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"creditjobs/internal/domain"
)

type transactionDTO struct {
	ID           string                 `json:"id"`
	Kind         domain.TransactionKind `json:"kind"`
	Amount       int64                  `json:"amount"`
	BalanceAfter int64                  `json:"balance_after"`
	JobID        string                 `json:"job_id,omitempty"`
	Metadata     json.RawMessage        `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type creditsResponse struct {
	Balance      int64            `json:"balance"`
	Transactions []transactionDTO `json:"transactions"`
}

func (a *App) CreditsSummary(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	balance, err := a.Credits.Balance(r.Context(), ownerID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	txs, err := a.Credits.Transactions(r.Context(), ownerID, limitParam(r, 20, 100))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := creditsResponse{Balance: balance, Transactions: make([]transactionDTO, 0, len(txs))}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, transactionDTO{
			ID:           tx.ID,
			Kind:         tx.Kind,
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			JobID:        tx.JobID,
			Metadata:     tx.Metadata,
			CreatedAt:    tx.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, resp)
}
