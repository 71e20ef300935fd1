package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/internal/pkg/orderstate"
)

// Service runs one delivery through the settlement pipeline: parse → claim →
// record → dispatch by event type → finalize, with the claim and every
// business mutation inside a single transaction. Signature verification
// happens in the HTTP layer before the service is reached; unverified events
// never produce a claim.
type Service struct {
	db       *gorm.DB
	machine  *orderstate.Machine
	validate *validator.Validate
}

func NewService(db *gorm.DB, machine *orderstate.Machine) *Service {
	return &Service{
		db:       db,
		machine:  machine,
		validate: validator.New(),
	}
}

// Ingest processes one verified delivery. The returned Result tells the HTTP
// layer which success shape to answer with; a non-nil error means the
// transaction rolled back and the provider should retry.
func (s *Service) Ingest(ctx context.Context, source string, payload []byte) (*Result, error) {
	start := time.Now()

	ev, err := ParseEvent(source, payload)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(ev); err != nil {
		return nil, ErrInvalidPayload
	}

	// Resolve the order (and with it the tenant scope) before claiming; the
	// lookup is read-only and cheap compared to holding it inside the
	// transaction.
	var order *models.Order
	var siteID uint
	if ev.OrderRef != "" {
		order, err = NewRepository(s.db).FindOrderByOrderNo(ev.OrderRef)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if order != nil {
			siteID = order.SiteID
		}
	}

	res := &Result{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		first, err := repo.ClaimEvent(&models.IdempotencyClaim{
			SiteID:          siteID,
			Source:          ev.Source,
			ProviderEventID: ev.ProviderEventID,
		})
		if err != nil {
			return err
		}
		if !first {
			// Another delivery holds the claim. Short-circuit with a
			// success-equivalent answer; the event store already has its row.
			res.Duplicate = true
			return nil
		}

		record := &models.WebhookEvent{
			SiteID:          siteID,
			Source:          ev.Source,
			ProviderEventID: ev.ProviderEventID,
			EventType:       ev.Type,
			OrderRef:        ev.OrderRef,
			Payload:         string(payload),
			Status:          models.WebhookStatusPending,
		}
		if err := repo.CreateEvent(record); err != nil {
			return err
		}
		res.EventID = record.ID

		status := models.WebhookStatusProcessed
		note := ""
		switch {
		case !ev.IsSettlement():
			// Forward compatibility: unknown event types are recorded and
			// acknowledged without business effect.
			res.Ignored = true
			note = "event type not handled"
		case order == nil:
			res.Ignored = true
			note = ErrOrderNotFound.Error()
			log.Warnf("[Webhook] %s event %s references unknown order %q", ev.Source, ev.ProviderEventID, ev.OrderRef)
		default:
			err := s.applySettlement(ctx, tx, order, ev)
			if errors.Is(err, orderstate.ErrTransitionGuard) {
				// Stale or replayed settlement on a terminal order: logged,
				// recorded as duplicate, no mutation.
				res.Guarded = true
				status = models.WebhookStatusDuplicate
				note = "order already terminal"
			} else if err != nil {
				return err
			}
		}

		res.LatencyMS = time.Since(start).Milliseconds()
		return repo.FinalizeEvent(record.ID, status, note, res.LatencyMS)
	})
	if txErr != nil {
		// Claim and event row rolled back together, so the provider's retry
		// starts clean. Keep an audit trace of the failed attempt in an
		// independent write.
		s.recordFailure(ctx, siteID, ev, payload, txErr, start)
		return nil, txErr
	}
	return res, nil
}

func (s *Service) applySettlement(ctx context.Context, tx *gorm.DB, order *models.Order, ev *Event) error {
	switch ev.Outcome {
	case OutcomePaid:
		return s.machine.MarkPaid(ctx, tx, order, ev.ChainRef, ev.OccurredAt)
	case OutcomeFailed:
		return s.machine.MarkFailed(ctx, tx, order)
	case OutcomeCancelled:
		return s.machine.MarkCancelled(ctx, tx, order, "settlement cancelled by "+ev.Source)
	case OutcomeExpired:
		return s.machine.MarkExpired(ctx, tx, order)
	default:
		return nil
	}
}

// recordFailure writes a terminal failed audit row outside the rolled-back
// transaction. The event store documents every attempt even when the business
// effect did not land; the row flips back to pending if the provider retries.
func (s *Service) recordFailure(ctx context.Context, siteID uint, ev *Event, payload []byte, cause error, start time.Time) {
	repo := NewRepository(s.db.WithContext(ctx))
	record := &models.WebhookEvent{
		SiteID:          siteID,
		Source:          ev.Source,
		ProviderEventID: ev.ProviderEventID,
		EventType:       ev.Type,
		OrderRef:        ev.OrderRef,
		Payload:         string(payload),
		Status:          models.WebhookStatusFailed,
	}
	if err := repo.CreateEvent(record); err != nil {
		log.Errorf("[Webhook] could not record failed delivery %s/%s: %v", ev.Source, ev.ProviderEventID, err)
		return
	}
	if err := repo.FinalizeEvent(record.ID, models.WebhookStatusFailed, cause.Error(), time.Since(start).Milliseconds()); err != nil {
		log.Errorf("[Webhook] could not finalize failed delivery %s/%s: %v", ev.Source, ev.ProviderEventID, err)
	}
}
