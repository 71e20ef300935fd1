package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/app/repository"
	"github.com/mwaldhauser/PaySettle/internal/pkg/database"
	"github.com/mwaldhauser/PaySettle/internal/pkg/jobqueue"
	"github.com/mwaldhauser/PaySettle/internal/pkg/ledger"
	"github.com/mwaldhauser/PaySettle/internal/pkg/webhook"
)

var validate = validator.New()

type withdrawalRequest struct {
	SiteID  uint   `json:"site_id" validate:"required"`
	AgentID uint64 `json:"agent_id" validate:"required"`
	Amount  string `json:"amount" validate:"required"`
}

// HandleRequestWithdrawal creates a withdrawal in requested status. The
// balance is untouched until approval.
func HandleRequestWithdrawal(c *fiber.Ctx) error {
	var req withdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_amount"})
	}

	w := &models.Withdrawal{
		SiteID:  req.SiteID,
		AgentID: req.AgentID,
		Amount:  amount,
		Status:  models.WithdrawalStatusRequested,
	}
	if err := repository.GetGlobalFactory().GetWithdrawalRepository().Create(w); err != nil {
		log.Errorf("[Internal] withdrawal create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "create_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(w)
}

// HandleApproveWithdrawal debits the agent balance and dispatches the payout.
// Approval, debit, and statement update are one transaction; a debit beyond
// the current balance rejects the approval without mutation.
func HandleApproveWithdrawal(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	wrepo := repository.GetGlobalFactory().GetWithdrawalRepository()
	w, err := wrepo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	led := ledger.New()
	txErr := database.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decided, err := wrepo.Decide(tx, w.ID, models.WithdrawalStatusRequested, models.WithdrawalStatusApproved, "")
		if err != nil {
			return err
		}
		if !decided {
			return errWithdrawalDecided
		}
		return led.Debit(ctx, tx, w.SiteID, w.AgentID, w.Amount, time.Now().UTC())
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, errWithdrawalDecided):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_decided"})
		case errors.Is(txErr, ledger.ErrInsufficientBalance):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "insufficient_balance"})
		case errors.Is(txErr, ledger.ErrConcurrentUpdate):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "balance_conflict_retry"})
		default:
			log.Errorf("[Internal] withdrawal %d approval failed: %v", w.ID, txErr)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "approval_failed"})
		}
	}

	// The payout itself is asynchronous; a queue failure only delays
	// dispatch, the debit has already settled.
	if err := jobqueue.EnqueuePayout(w.ID); err != nil {
		log.Errorf("[Internal] payout enqueue for withdrawal %d failed: %v", w.ID, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": models.WithdrawalStatusApproved})
}

var errWithdrawalDecided = errors.New("withdrawal already decided")

// HandleRejectWithdrawal closes a requested withdrawal without touching the
// balance.
func HandleRejectWithdrawal(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}
	note := c.Query("reason", "")

	decided := false
	txErr := database.GetDB().Transaction(func(tx *gorm.DB) error {
		var err error
		decided, err = repository.GetGlobalFactory().GetWithdrawalRepository().
			Decide(tx, uint(id), models.WithdrawalStatusRequested, models.WithdrawalStatusRejected, note)
		return err
	})
	if txErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reject_failed"})
	}
	if !decided {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_decided"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": models.WithdrawalStatusRejected})
}

// HandleListStatements returns the period statements of an agent, newest
// first. Agent and site are addressed by query parameters.
func HandleListStatements(c *fiber.Ctx) error {
	agentID, err := strconv.ParseUint(c.Query("agent_id"), 10, 64)
	if err != nil || agentID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "agent_id_required"})
	}
	siteID := uint(c.QueryInt("site_id", 0))
	if siteID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "site_id_required"})
	}
	limit := c.QueryInt("limit", 12)

	statements, err := repository.GetGlobalFactory().GetStatementRepository().ListByAgent(siteID, agentID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	balance, err := repository.GetGlobalFactory().GetBalanceRepository().Get(siteID, agentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"balance":    balance,
		"statements": statements,
	})
}

// HandleGetWebhookEvent exposes a single audit row for support tooling and
// manual replay decisions.
func HandleGetWebhookEvent(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_id"})
	}

	event, err := webhook.NewRepository(database.GetDB()).GetEvent(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(event)
}
