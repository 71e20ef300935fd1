package webhook

import (
	"errors"
	"testing"

	"github.com/mwaldhauser/PaySettle/app/models"
)

func TestParseStripeEvent(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantErr     bool
		wantOutcome SettlementOutcome
		wantOrder   string
	}{
		{
			name:        "payment succeeded",
			payload:     `{"id":"evt_1","type":"payment_intent.succeeded","created":1720000000,"data":{"object":{"id":"pi_1","metadata":{"order_no":"ord-123"}}}}`,
			wantOutcome: OutcomePaid,
			wantOrder:   "ord-123",
		},
		{
			name:        "payment failed",
			payload:     `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","metadata":{"order_no":"ord-123"}}}}`,
			wantOutcome: OutcomeFailed,
			wantOrder:   "ord-123",
		},
		{
			name:        "payment canceled",
			payload:     `{"id":"evt_3","type":"payment_intent.canceled","data":{"object":{"id":"pi_3","metadata":{"order_no":"ord-9"}}}}`,
			wantOutcome: OutcomeCancelled,
			wantOrder:   "ord-9",
		},
		{
			name:        "unhandled type has no outcome",
			payload:     `{"id":"evt_4","type":"invoice.created","data":{"object":{"id":"in_1","metadata":{}}}}`,
			wantOutcome: "",
		},
		{
			name:    "missing id",
			payload: `{"type":"payment_intent.succeeded"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `{{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseStripeEvent([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Source != models.WebhookSourceStripe {
				t.Fatalf("source = %q", ev.Source)
			}
			if ev.Outcome != tt.wantOutcome {
				t.Fatalf("outcome = %q, want %q", ev.Outcome, tt.wantOutcome)
			}
			if ev.OrderRef != tt.wantOrder {
				t.Fatalf("order ref = %q, want %q", ev.OrderRef, tt.wantOrder)
			}
			if ev.IsSettlement() != (tt.wantOutcome != "") {
				t.Fatalf("IsSettlement mismatch for outcome %q", tt.wantOutcome)
			}
		})
	}
}

func TestParseFireblocksEvent(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantErr     bool
		wantEventID string
		wantOutcome SettlementOutcome
	}{
		{
			name:        "completed",
			payload:     `{"id":"wh_1","type":"TRANSACTION_STATUS_UPDATED","timestamp":1720000000000,"data":{"id":"tx_1","status":"COMPLETED","externalTxId":"ord-123"}}`,
			wantEventID: "wh_1",
			wantOutcome: OutcomePaid,
		},
		{
			name:        "blocked maps to failed",
			payload:     `{"id":"wh_2","type":"TRANSACTION_STATUS_UPDATED","data":{"id":"tx_1","status":"BLOCKED","externalTxId":"ord-123"}}`,
			wantEventID: "wh_2",
			wantOutcome: OutcomeFailed,
		},
		{
			name:        "cancelled",
			payload:     `{"id":"wh_3","type":"TRANSACTION_STATUS_UPDATED","data":{"id":"tx_1","status":"CANCELLED","externalTxId":"ord-123"}}`,
			wantEventID: "wh_3",
			wantOutcome: OutcomeCancelled,
		},
		{
			name:        "legacy format derives event id",
			payload:     `{"type":"TRANSACTION_STATUS_UPDATED","data":{"id":"tx_9","status":"COMPLETED","externalTxId":"ord-1"}}`,
			wantEventID: "tx_9:COMPLETED",
			wantOutcome: OutcomePaid,
		},
		{
			name:        "created event has no outcome",
			payload:     `{"id":"wh_4","type":"TRANSACTION_CREATED","data":{"id":"tx_1","status":"SUBMITTED"}}`,
			wantEventID: "wh_4",
			wantOutcome: "",
		},
		{
			name:    "no identifiers",
			payload: `{"type":"TRANSACTION_STATUS_UPDATED","data":{}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseFireblocksEvent([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.ProviderEventID != tt.wantEventID {
				t.Fatalf("event id = %q, want %q", ev.ProviderEventID, tt.wantEventID)
			}
			if ev.Outcome != tt.wantOutcome {
				t.Fatalf("outcome = %q, want %q", ev.Outcome, tt.wantOutcome)
			}
		})
	}
}

func TestParseEvent_UnknownSource(t *testing.T) {
	if _, err := ParseEvent("paypal", []byte(`{}`)); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}
