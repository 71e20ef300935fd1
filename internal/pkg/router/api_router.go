package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/mwaldhauser/PaySettle/app/controllers"
	"github.com/mwaldhauser/PaySettle/internal/pkg/constants"
	"github.com/mwaldhauser/PaySettle/internal/pkg/env"
	"github.com/mwaldhauser/PaySettle/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT_MAX", 120),
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// Internal operator endpoints, service key required.
	internal := api.Group(constants.InternalAPIRoute, middleware.APIKeyAuthMiddleware())
	internal.Post("/withdrawals", controllers.HandleRequestWithdrawal)
	internal.Post("/withdrawals/:id/approve", controllers.HandleApproveWithdrawal)
	internal.Post("/withdrawals/:id/reject", controllers.HandleRejectWithdrawal)
	internal.Get("/statements", controllers.HandleListStatements)
	internal.Get("/events/:id", controllers.HandleGetWebhookEvent)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// newLimiterStorage keeps rate limit counters in Redis so limits hold
// across instances.
func newLimiterStorage() *redisstorage.Storage {
	return redisstorage.New(redisstorage.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: env.GetEnvInt("CACHE_LIMITER_DB", 1),
	})
}
