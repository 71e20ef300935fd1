package webhook

import (
	"errors"
	"time"
)

// Pipeline error taxonomy. Controllers map these onto the provider response
// contract: signature failures are 400, duplicates and guarded no-ops are 200,
// storage failures are 5xx so the provider retries.
var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrInvalidPayload   = errors.New("webhook payload invalid")
	ErrUnknownSource    = errors.New("unknown webhook source")
	ErrOrderNotFound    = errors.New("no order matches event reference")
)

// SettlementOutcome is the terminal order effect an event requests.
type SettlementOutcome string

const (
	OutcomePaid      SettlementOutcome = "paid"
	OutcomeFailed    SettlementOutcome = "failed"
	OutcomeCancelled SettlementOutcome = "cancelled"
	OutcomeExpired   SettlementOutcome = "expired"
)

// Event is the provider-agnostic shape of a parsed delivery. Outcome is empty
// for event types the pipeline knows it does not act on; those are recorded
// and acknowledged for forward compatibility.
type Event struct {
	Source          string            `validate:"required,oneof=stripe fireblocks"`
	ProviderEventID string            `validate:"required,max=191"`
	Type            string            `validate:"required,max=100"`
	Outcome         SettlementOutcome `validate:"omitempty,oneof=paid failed cancelled expired"`
	OrderRef        string            `validate:"max=191"`
	ChainRef        string            `validate:"max=191"`
	OccurredAt      time.Time
}

// IsSettlement reports whether the event carries a terminal order effect.
func (e *Event) IsSettlement() bool {
	return e.Outcome != ""
}

// Result summarizes one processed delivery for the HTTP layer.
type Result struct {
	EventID   uint
	Duplicate bool
	Ignored   bool
	Guarded   bool
	LatencyMS int64
}
