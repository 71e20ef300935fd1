package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mwaldhauser/PaySettle/app/controllers"
	"github.com/mwaldhauser/PaySettle/internal/pkg/constants"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhooks. These endpoints authenticate via signature
	// verification inside the handler, not via middleware.
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
	app.Post(constants.FireblocksWebhookRoute, controllers.HandleFireblocksWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
