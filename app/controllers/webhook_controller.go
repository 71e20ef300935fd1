package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/internal/pkg/commission"
	"github.com/mwaldhauser/PaySettle/internal/pkg/database"
	"github.com/mwaldhauser/PaySettle/internal/pkg/env"
	"github.com/mwaldhauser/PaySettle/internal/pkg/inventory"
	counter "github.com/mwaldhauser/PaySettle/internal/pkg/metrics/counter"
	"github.com/mwaldhauser/PaySettle/internal/pkg/orderstate"
	"github.com/mwaldhauser/PaySettle/internal/pkg/webhook"
)

const webhookHandlerTimeout = 15 * time.Second

// HandleStripeWebhook receives Stripe settlement events. Signature failures
// answer 400 and never create a claim; everything past verification goes
// through the pipeline service.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	counter.AddReceived(models.WebhookSourceStripe)
	if !webhook.VerifyStripeSignature(rawBody, signature, secret, webhook.DefaultSignatureTolerance) {
		counter.AddFailed(models.WebhookSourceStripe)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	return ingestWebhook(c, models.WebhookSourceStripe, rawBody)
}

// HandleFireblocksWebhook receives Fireblocks transaction notifications,
// signed RSA-PKCS1v15/SHA-512 with the signature base64 in Fireblocks-Signature.
func HandleFireblocksWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Fireblocks-Signature")
	publicKey := env.GetEnv("FIREBLOCKS_WEBHOOK_PUBLIC_KEY", "")

	counter.AddReceived(models.WebhookSourceFireblocks)
	if !webhook.VerifyFireblocksSignature(rawBody, signature, publicKey) {
		counter.AddFailed(models.WebhookSourceFireblocks)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	return ingestWebhook(c, models.WebhookSourceFireblocks, rawBody)
}

func ingestWebhook(c *fiber.Ctx, source string, payload []byte) error {
	svc := newPipelineService()
	ctx, cancel := context.WithTimeout(context.Background(), webhookHandlerTimeout)
	defer cancel()

	res, err := svc.Ingest(ctx, source, payload)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidPayload) || errors.Is(err, webhook.ErrUnknownSource) {
			counter.AddFailed(source)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		// Transient storage failure: 5xx tells the provider to retry, which
		// the idempotency claim makes safe.
		counter.AddFailed(source)
		log.Errorf("[Webhook] %s ingest failed: %v", source, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ingest_failed"})
	}

	counter.AddProcessed(source)
	switch {
	case res.Duplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case res.Guarded:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "stale": true})
	case res.Ignored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}

// newPipelineService wires the settlement pipeline from the global DB handle.
// Plan rates are read through the Redis-cached lookup.
func newPipelineService() *webhook.Service {
	db := database.GetDB()
	engine := commission.NewEngine(
		commission.NewGormChainResolver(),
		commission.NewCachedPlanLookup(commission.NewGormPlanLookup(), 5*time.Minute),
		env.GetEnvInt("COMMISSION_MAX_DEPTH", commission.DefaultMaxDepth),
		env.GetEnvInt("COMMISSION_HOLD_DAYS", commission.DefaultHoldDays),
	)
	machine := orderstate.NewMachine(engine, inventory.NewReconciler())
	return webhook.NewService(db, machine)
}
