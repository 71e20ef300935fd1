package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/app/repository"
	"github.com/mwaldhauser/PaySettle/internal/pkg/payout"
)

// processPayoutDispatchJob sends one approved withdrawal to the payout
// backend and records the provider reference. The job is a no-op when the
// withdrawal already carries a reference, so retries and duplicate enqueues
// never dispatch twice.
func (q *Queue) processPayoutDispatchJob(ctx context.Context, job *Job) error {
	payload, err := PayoutDispatchJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payout dispatch payload: %w", err)
	}

	wrepo := repository.GetGlobalRepositories().Withdrawal
	w, err := wrepo.GetByID(payload.WithdrawalID)
	if err != nil {
		return fmt.Errorf("failed to load withdrawal %d: %w", payload.WithdrawalID, err)
	}

	if w.Status != models.WithdrawalStatusApproved {
		log.Warnf("[JobQueue] Withdrawal %d is %s, skipping payout dispatch", w.ID, w.Status)
		return nil
	}
	if w.PayoutRef != "" {
		log.Infof("[JobQueue] Withdrawal %d already dispatched (ref %s), skipping", w.ID, w.PayoutRef)
		return nil
	}

	ref, err := q.payoutBackend.Dispatch(ctx, payout.Payout{
		WithdrawalID: w.ID,
		SiteID:       w.SiteID,
		AgentID:      w.AgentID,
		Amount:       w.Amount,
		Currency:     "USD",
	})
	if err != nil {
		return payout.ErrDispatchFailed(q.payoutBackend.Name(), err)
	}

	if err := wrepo.SetPayoutRef(w.ID, ref); err != nil {
		// The transfer went out but the reference was not stored. A retry
		// re-dispatches, which the live backend dedupes through the external
		// transaction id derived from the withdrawal id.
		log.Errorf("[JobQueue] Dispatched withdrawal %d (ref %s) but failed to store reference: %v", w.ID, ref, err)
		return fmt.Errorf("failed to store payout reference for withdrawal %d: %w", w.ID, err)
	}

	log.Infof("[JobQueue] Withdrawal %d dispatched via %s (ref %s)", w.ID, q.payoutBackend.Name(), ref)
	return nil
}
