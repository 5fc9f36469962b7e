package jobs

import (
	"context"
	"fmt"
	"time"

	"creditjobs/internal/domain"
	"creditjobs/internal/events"
)

// compensationTimeout bounds a refund issued after the caller's context is gone.
const compensationTimeout = 10 * time.Second

// Compensator refunds the stored cost of a job at most once. The ledger refund
// is idempotent per job and runs before the record's refunded flag is set, so a
// crash between the two steps is repaired by calling Refund again.
type Compensator struct {
	jobs    domain.JobRepository
	ledger  domain.CreditLedger
	emitter *events.Emitter
}

// NewCompensator creates a Compensator.
func NewCompensator(jobs domain.JobRepository, ledger domain.CreditLedger, emitter *events.Emitter) *Compensator {
	return &Compensator{jobs: jobs, ledger: ledger, emitter: emitter}
}

// Refund returns job.Cost to the owner and reports whether this call applied
// the refund.
func (c *Compensator) Refund(ctx context.Context, job domain.Job) (bool, error) {
	if job.Refunded {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	applied, err := c.ledger.Refund(ctx, job.OwnerID, job.ID, job.Cost)
	if err != nil {
		return false, fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	if _, err := c.jobs.MarkRefunded(ctx, job.ID); err != nil {
		return applied, fmt.Errorf("mark job %s refunded: %w", job.ID, err)
	}
	if applied {
		evt := domain.NewEvent(domain.EventRefunded, job)
		evt.Amount = job.Cost
		c.emitter.Emit(evt)
	}
	return applied, nil
}
