package handlers

import (
	"errors"
	"net/http"

	"creditjobs/internal/domain"
)

const (
	codeBadRequest          = "BAD_REQUEST"
	codeUnauthorized        = "UNAUTHORIZED"
	codeInsufficientCredits = "INSUFFICIENT_CREDITS"
	codeForbidden           = "FORBIDDEN"
	codeNotFound            = "NOT_FOUND"
	codeConflict            = "CONFLICT"
	codeSubmissionFailed    = "SUBMISSION_FAILED"
	codeUnavailable         = "TEMPORARILY_UNAVAILABLE"
	codeInternal            = "INTERNAL"

	// msgRefundPending is a message key only; the response code stays
	// SUBMISSION_FAILED.
	msgRefundPending = "SUBMISSION_FAILED_REFUND_PENDING"
)

var messages = map[string]map[string]string{
	"en": {
		codeBadRequest:          "The request is invalid.",
		codeUnauthorized:        "Authentication is required.",
		codeInsufficientCredits: "Not enough credits for this job.",
		codeForbidden:           "This job belongs to another account.",
		codeNotFound:            "Job not found.",
		codeConflict:            "The job has already finished or changed state.",
		codeSubmissionFailed:    "The job could not be queued. Your credits were returned.",
		msgRefundPending:        "The job could not be queued. Your credits will be returned shortly.",
		codeUnavailable:         "The service is temporarily unavailable. Please retry.",
		codeInternal:            "Something went wrong.",
	},
	"id": {
		codeBadRequest:          "Permintaan tidak valid.",
		codeUnauthorized:        "Autentikasi diperlukan.",
		codeInsufficientCredits: "Kredit tidak cukup untuk pekerjaan ini.",
		codeForbidden:           "Pekerjaan ini milik akun lain.",
		codeNotFound:            "Pekerjaan tidak ditemukan.",
		codeConflict:            "Pekerjaan sudah selesai atau berubah status.",
		codeSubmissionFailed:    "Pekerjaan gagal dimasukkan ke antrean. Kredit Anda telah dikembalikan.",
		msgRefundPending:        "Pekerjaan gagal dimasukkan ke antrean. Kredit Anda akan segera dikembalikan.",
		codeUnavailable:         "Layanan sedang tidak tersedia. Silakan coba lagi.",
		codeInternal:            "Terjadi kesalahan.",
	},
}

func message(locale, code string) string {
	if m, ok := messages[locale][code]; ok {
		return m
	}
	return messages["en"][code]
}

// writeError maps service errors onto the API's status codes.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *domain.InsufficientCreditsError
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &insufficient):
		required, available := insufficient.Required, insufficient.Available
		a.json(w, http.StatusPaymentRequired, errorBody{
			Code:      codeInsufficientCredits,
			Message:   message(localeOf(r), codeInsufficientCredits),
			Required:  &required,
			Available: &available,
		})
	case errors.As(err, &invalid):
		a.json(w, http.StatusBadRequest, errorBody{Code: codeBadRequest, Message: invalid.Error()})
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, codeNotFound)
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, r, http.StatusForbidden, codeForbidden)
	case errors.Is(err, domain.ErrConflict):
		a.error(w, r, http.StatusConflict, codeConflict)
	case errors.Is(err, domain.ErrSubmissionFailed) && errors.Is(err, domain.ErrRefundPending):
		a.log(r).Error().Err(err).Str("path", r.URL.Path).Msg("submission failed, refund pending")
		a.json(w, http.StatusServiceUnavailable, errorBody{Code: codeSubmissionFailed, Message: message(localeOf(r), msgRefundPending)})
	case errors.Is(err, domain.ErrSubmissionFailed):
		a.log(r).Error().Err(err).Str("path", r.URL.Path).Msg("submission failed")
		a.error(w, r, http.StatusServiceUnavailable, codeSubmissionFailed)
	case errors.Is(err, domain.ErrTransient):
		a.log(r).Warn().Err(err).Str("path", r.URL.Path).Msg("transient failure")
		a.error(w, r, http.StatusServiceUnavailable, codeUnavailable)
	default:
		a.log(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, r, http.StatusInternalServerError, codeInternal)
	}
}
