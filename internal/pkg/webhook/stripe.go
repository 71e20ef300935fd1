package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// Stripe event types the pipeline acts on. Everything else is recorded as a
// no-op.
const (
	StripeEventPaymentSucceeded = "payment_intent.succeeded"
	StripeEventPaymentFailed    = "payment_intent.payment_failed"
	StripeEventPaymentCanceled  = "payment_intent.canceled"
)

type stripeEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseStripeEvent decodes a Stripe envelope into the provider-agnostic event
// shape. The order reference travels in the payment intent's metadata.
func ParseStripeEvent(payload []byte) (*Event, error) {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, ErrInvalidPayload
	}

	ev := &Event{
		Source:          models.WebhookSourceStripe,
		ProviderEventID: strings.TrimSpace(env.ID),
		Type:            strings.TrimSpace(env.Type),
		OrderRef:        strings.TrimSpace(env.Data.Object.Metadata["order_no"]),
		ChainRef:        strings.TrimSpace(env.Data.Object.ID),
	}
	if env.Created > 0 {
		ev.OccurredAt = time.Unix(env.Created, 0).UTC()
	}

	switch ev.Type {
	case StripeEventPaymentSucceeded:
		ev.Outcome = OutcomePaid
	case StripeEventPaymentFailed:
		ev.Outcome = OutcomeFailed
	case StripeEventPaymentCanceled:
		ev.Outcome = OutcomeCancelled
	}
	return ev, nil
}
