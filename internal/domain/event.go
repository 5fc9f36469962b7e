package domain

import "time"

// EventType enumerates lifecycle notifications.
type EventType string

const (
	EventSubmitted      EventType = "job.submitted"
	EventProcessing     EventType = "job.processing"
	EventCompleted      EventType = "job.completed"
	EventRetryScheduled EventType = "job.retry_scheduled"
	EventFailed         EventType = "job.failed"
	EventCancelled      EventType = "job.cancelled"
	EventRefunded       EventType = "job.refunded"
)

// LifecycleEvent is delivered best-effort to external listeners.
type LifecycleEvent struct {
	Type       EventType   `json:"type"`
	JobID      string      `json:"job_id"`
	OwnerID    string      `json:"owner_id"`
	Category   Category    `json:"category"`
	Status     JobStatus   `json:"status"`
	Reason     FailureKind `json:"reason,omitempty"`
	RetryCount int         `json:"retry_count"`
	Amount     int64       `json:"amount,omitempty"`
	RetryAt    *time.Time  `json:"retry_at,omitempty"`
	At         time.Time   `json:"at"`
}

// NewEvent builds an event describing the job's current state.
func NewEvent(t EventType, job Job) LifecycleEvent {
	return LifecycleEvent{
		Type:       t,
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Category:   job.Category,
		Status:     job.Status,
		Reason:     job.FailureReason,
		RetryCount: job.RetryCount,
		At:         time.Now().UTC(),
	}
}
