package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"creditjobs/internal/domain"
)

func TestWriteErrorMapsSubmissionFailures(t *testing.T) {
	cause := errors.New("redis: connection refused")
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "refunded",
			err:     fmt.Errorf("%w: enqueue: %v", domain.ErrSubmissionFailed, cause),
			status:  http.StatusServiceUnavailable,
			code:    codeSubmissionFailed,
			message: "The job could not be queued. Your credits were returned.",
		},
		{
			name:    "refund pending",
			err:     fmt.Errorf("%w: %w: enqueue: %v", domain.ErrSubmissionFailed, domain.ErrRefundPending, cause),
			status:  http.StatusServiceUnavailable,
			code:    codeSubmissionFailed,
			message: "The job could not be queued. Your credits will be returned shortly.",
		},
		{
			name:    "transient",
			err:     fmt.Errorf("%w: probe image queue", domain.ErrTransient),
			status:  http.StatusServiceUnavailable,
			code:    codeUnavailable,
			message: "The service is temporarily unavailable. Please retry.",
		},
	}
	app := &App{Logger: zerolog.Nop()}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
			app.writeError(rec, req, tc.err)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tc.code || body.Message != tc.message {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}
