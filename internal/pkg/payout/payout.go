package payout

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwaldhauser/PaySettle/internal/pkg/env"
)

// Payout is one outbound transfer to an agent.
type Payout struct {
	WithdrawalID uint
	SiteID       uint
	AgentID      uint64
	Amount       decimal.Decimal
	Currency     string
}

// Backend dispatches payouts. The implementation is selected once at process
// start from PAYOUT_BACKEND (mock|live); handlers and workers only ever see
// the interface.
type Backend interface {
	Name() string
	Dispatch(ctx context.Context, p Payout) (string, error)
}

// NewBackendFromEnv selects the configured payout backend. Unknown values fall
// back to the simulated backend so a misconfigured deployment never moves real
// funds.
func NewBackendFromEnv() Backend {
	switch strings.ToLower(strings.TrimSpace(env.GetEnv("PAYOUT_BACKEND", "mock"))) {
	case "live":
		return NewTransferClientFromEnv()
	default:
		return &SimulatedBackend{}
	}
}

// SimulatedBackend acknowledges payouts without moving funds. Used in
// development and in any environment without custody credentials.
type SimulatedBackend struct{}

func (b *SimulatedBackend) Name() string { return "mock" }

func (b *SimulatedBackend) Dispatch(ctx context.Context, p Payout) (string, error) {
	_ = ctx
	ref := "sim_" + uuid.NewString()
	log.Infof("[Payout] simulated payout %s: withdrawal %d agent %d amount %s", ref, p.WithdrawalID, p.AgentID, p.Amount.StringFixed(2))
	return ref, nil
}

// ErrDispatchFailed wraps provider-side dispatch failures with the backend
// name for worker logs.
func ErrDispatchFailed(backend string, err error) error {
	return fmt.Errorf("payout dispatch via %s failed: %w", backend, err)
}
