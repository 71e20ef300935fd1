package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// Fireblocks notification types and transaction statuses the pipeline maps to
// settlement outcomes.
const (
	FireblocksEventTransactionStatus = "TRANSACTION_STATUS_UPDATED"
	FireblocksEventTransactionNew    = "TRANSACTION_CREATED"

	fireblocksStatusCompleted = "COMPLETED"
	fireblocksStatusFailed    = "FAILED"
	fireblocksStatusBlocked   = "BLOCKED"
	fireblocksStatusCancelled = "CANCELLED"
	fireblocksStatusRejected  = "REJECTED"
)

type fireblocksEnvelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ExternalTxID string `json:"externalTxId"`
	} `json:"data"`
}

// ParseFireblocksEvent decodes a Fireblocks notification. The order reference
// travels as the transaction's externalTxId, set at transfer creation.
func ParseFireblocksEvent(payload []byte) (*Event, error) {
	var env fireblocksEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrInvalidPayload
	}
	eventID := strings.TrimSpace(env.ID)
	if eventID == "" {
		// Older notification formats identify deliveries by transaction id +
		// status only.
		if strings.TrimSpace(env.Data.ID) == "" || strings.TrimSpace(env.Data.Status) == "" {
			return nil, ErrInvalidPayload
		}
		eventID = strings.TrimSpace(env.Data.ID) + ":" + strings.TrimSpace(env.Data.Status)
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, ErrInvalidPayload
	}

	ev := &Event{
		Source:          models.WebhookSourceFireblocks,
		ProviderEventID: eventID,
		Type:            strings.TrimSpace(env.Type),
		OrderRef:        strings.TrimSpace(env.Data.ExternalTxID),
		ChainRef:        strings.TrimSpace(env.Data.ID),
	}
	if env.Timestamp > 0 {
		ev.OccurredAt = time.UnixMilli(env.Timestamp).UTC()
	}

	if ev.Type == FireblocksEventTransactionStatus {
		switch strings.ToUpper(strings.TrimSpace(env.Data.Status)) {
		case fireblocksStatusCompleted:
			ev.Outcome = OutcomePaid
		case fireblocksStatusFailed, fireblocksStatusBlocked, fireblocksStatusRejected:
			ev.Outcome = OutcomeFailed
		case fireblocksStatusCancelled:
			ev.Outcome = OutcomeCancelled
		}
	}
	return ev, nil
}

// ParseEvent dispatches to the provider-specific parser.
func ParseEvent(source string, payload []byte) (*Event, error) {
	switch source {
	case models.WebhookSourceStripe:
		return ParseStripeEvent(payload)
	case models.WebhookSourceFireblocks:
		return ParseFireblocksEvent(payload)
	default:
		return nil, ErrUnknownSource
	}
}
