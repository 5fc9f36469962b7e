package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"creditjobs/internal/domain"
	"creditjobs/internal/jobs"
	"creditjobs/internal/queue"
)

const maxBodyBytes = 1 << 20

type submitRequest struct {
	Category   string            `json:"category"`
	Parameters domain.Parameters `json:"parameters"`
	Prompt     json.RawMessage   `json:"prompt"`
}

type submitResponse struct {
	JobID        string          `json:"job_id"`
	Category     domain.Category `json:"category"`
	Cost         int64           `json:"cost"`
	BalanceAfter int64           `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

type statusResponse struct {
	JobID      string             `json:"job_id"`
	Category   domain.Category    `json:"category"`
	State      queue.State        `json:"state"`
	Status     domain.JobStatus   `json:"status,omitempty"`
	Progress   int                `json:"progress"`
	Result     json.RawMessage    `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Reason     domain.FailureKind `json:"failure_reason,omitempty"`
	RetryCount int                `json:"retry_count"`
	Refunded   bool               `json:"refunded"`
	UpdatedAt  *time.Time         `json:"updated_at,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type cancelResponse struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	State    queue.State      `json:"state"`
	Refunded bool             `json:"refunded"`
}

type jobSummary struct {
	JobID      string             `json:"job_id"`
	Category   domain.Category    `json:"category"`
	Status     domain.JobStatus   `json:"status"`
	Cost       int64              `json:"cost"`
	RetryCount int                `json:"retry_count"`
	Reason     domain.FailureKind `json:"failure_reason,omitempty"`
	Refunded   bool               `json:"refunded"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (a *App) JobsSubmit(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	var req submitRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, codeBadRequest)
		return
	}
	accepted, err := a.Submitter.Submit(r.Context(), jobs.SubmitRequest{
		OwnerID:    ownerID,
		Category:   domain.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		Parameters: req.Parameters,
		Payload:    req.Prompt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, submitResponse{
		JobID:        accepted.JobID,
		Category:     accepted.Category,
		Cost:         accepted.Cost,
		BalanceAfter: accepted.BalanceAfter,
		Timestamp:    accepted.SubmittedAt,
	})
}

// JobStatus reports a job's state. Jobs of other owners look missing.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	jobID := chi.URLParam(r, "job_id")
	st, job, err := a.Resolver.Resolve(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if job == nil || job.OwnerID != ownerID {
		a.error(w, r, http.StatusNotFound, codeNotFound)
		return
	}
	resp := statusResponse{
		JobID:      st.JobID,
		Category:   st.Category,
		State:      st.State,
		Status:     job.Status,
		Progress:   st.Progress,
		Result:     st.Result,
		Error:      st.Error,
		Reason:     st.Failure,
		RetryCount: job.RetryCount,
		Refunded:   job.Refunded,
	}
	if !st.UpdatedAt.IsZero() {
		updated := st.UpdatedAt
		resp.UpdatedAt = &updated
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, r, http.StatusBadRequest, codeBadRequest)
		return
	}
	res, err := a.Canceller.Cancel(r.Context(), chi.URLParam(r, "job_id"), ownerID, req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, cancelResponse{
		JobID:    res.JobID,
		Status:   res.Status,
		State:    res.State,
		Refunded: res.Refunded,
	})
}

func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	items, err := a.Jobs.ListByOwner(r.Context(), ownerID, limitParam(r, 20, 100))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]jobSummary, 0, len(items))
	for _, j := range items {
		out = append(out, jobSummary{
			JobID:      j.ID,
			Category:   j.Category,
			Status:     j.Status,
			Cost:       j.Cost,
			RetryCount: j.RetryCount,
			Reason:     j.FailureReason,
			Refunded:   j.Refunded,
			CreatedAt:  j.CreatedAt,
			UpdatedAt:  j.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": out})
}

func limitParam(r *http.Request, def, upper int) int {
	v, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || v <= 0 {
		return def
	}
	if v > upper {
		return upper
	}
	return v
}
