package domain

import (
	"encoding/json"
	"time"
)

// Category enumerates the supported generation job categories. Each category
// is served by its own queue; job ids are unique across all of them.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryTraining Category = "training"
)

// Categories lists every category in status probe order.
var Categories = []Category{CategoryImage, CategoryVideo, CategoryTraining}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryImage, CategoryVideo, CategoryTraining:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Active reports whether the status still allows the worker to make progress.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Parameters carries the pricing-relevant settings of a request. The opaque
// prompt payload travels separately in Job.Payload.
type Parameters struct {
	Quantity        int    `json:"quantity,omitempty"`
	Quality         string `json:"quality,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Steps           int    `json:"steps,omitempty"`
}

// Job encapsulates the lifecycle of one paid generation request. Cost is fixed
// at submission and is the only amount ever refunded.
type Job struct {
	ID            string
	OwnerID       string
	Category      Category
	Parameters    Parameters
	Payload       json.RawMessage
	Cost          int64
	Status        JobStatus
	RetryCount    int
	MaxRetries    int
	FailureReason FailureKind
	FailureDetail string
	Refunded      bool
	QueueRef      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether no further lifecycle transition will happen on its
// own. A failed job still eligible for retry is not terminal; a refunded one
// always is.
func (j Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return j.Refunded || !j.FailureReason.Retryable() || j.RetryCount >= j.MaxRetries
	}
	return false
}

// NeedsRefund reports whether the job ended without success and has not been
// compensated yet.
func (j Job) NeedsRefund() bool {
	if j.Refunded {
		return false
	}
	return j.Status == JobStatusCancelled || (j.Status == JobStatusFailed && j.Terminal())
}
