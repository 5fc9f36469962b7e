package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditjobs/internal/domain"
	"creditjobs/internal/infra"
	"creditjobs/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	row := r.db.QueryRow(ctx, sqlinline.QJobInsert,
		job.ID,
		job.OwnerID,
		string(job.Category),
		params,
		nullableBytes(job.Payload),
		job.Cost,
		string(job.Status),
		job.RetryCount,
		job.MaxRetries,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateJob
		}
		return err
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobGet, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// Delete removes a job record.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QJobDelete, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetQueueRef links the record to its queue item.
func (r *JobRepositoryPG) SetQueueRef(ctx context.Context, jobID, ref string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QJobSetQueueRef, jobID, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Transition moves the job to status to when its current status is one of from.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, reason domain.FailureKind, detail string) (*domain.Job, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobTransition, jobID, statuses, string(to), string(reason), detail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missOrConflict(ctx, jobID)
	}
	return job, err
}

// BeginRetry moves a failed job with retries left back to pending.
func (r *JobRepositoryPG) BeginRetry(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobBeginRetry, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missOrConflict(ctx, jobID)
	}
	return job, err
}

// MarkRefunded sets the refunded guard and reports whether this call set it.
func (r *JobRepositoryPG) MarkRefunded(ctx context.Context, jobID string) (bool, error) {
	var id string
	err := r.db.QueryRow(ctx, sqlinline.QJobMarkRefunded, jobID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already refunded.
		if err := r.missOrConflict(ctx, jobID); !errors.Is(err, domain.ErrConflict) {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByOwner returns the owner's most recent jobs.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QJobListByOwner, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// missOrConflict tells a lost compare-and-set from an unknown id.
func (r *JobRepositoryPG) missOrConflict(ctx context.Context, jobID string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, sqlinline.QJobExists, jobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job     domain.Job
		params  []byte
		payload []byte
		cat     string
		status  string
		reason  string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&cat,
		&params,
		&payload,
		&job.Cost,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&reason,
		&job.FailureDetail,
		&job.Refunded,
		&job.QueueRef,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Category = domain.Category(cat)
	job.Status = domain.JobStatus(status)
	job.FailureReason = domain.FailureKind(reason)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of job %s: %w", job.ID, err)
		}
	}
	if len(payload) > 0 {
		job.Payload = json.RawMessage(payload)
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
