package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"creditjobs/internal/domain"
	"creditjobs/internal/jobs"
	"creditjobs/internal/middleware"
)

// JobSubmitter accepts new jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (jobs.Accepted, error)
}

// JobResolver looks up a job's status together with its record.
type JobResolver interface {
	Resolve(ctx context.Context, jobID string) (jobs.Status, *domain.Job, error)
}

// JobCanceller cancels jobs on behalf of their owner.
type JobCanceller interface {
	Cancel(ctx context.Context, jobID, requesterID, reason string) (jobs.CancelResult, error)
}

// JobLister lists an owner's recent jobs.
type JobLister interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Job, error)
}

// CreditReader exposes balances and the transaction log.
type CreditReader interface {
	Balance(ctx context.Context, ownerID string) (int64, error)
	Transactions(ctx context.Context, ownerID string, limit int) ([]domain.CreditTransaction, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type App struct {
	Submitter JobSubmitter
	Resolver  JobResolver
	Canceller JobCanceller
	Jobs      JobLister
	Credits   CreditReader
	Checks    map[string]HealthCheck
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

// error writes a localized {code, message} body.
func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code string) {
	a.json(w, status, errorBody{Code: code, Message: message(localeOf(r), code)})
}

// log prefers the request scoped logger installed by middleware.Logger.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}

func (a *App) currentOwnerID(r *http.Request) string {
	return middleware.OwnerIDFromContext(r.Context())
}

func localeOf(r *http.Request) string {
	return middleware.LocaleFromContext(r.Context())
}
