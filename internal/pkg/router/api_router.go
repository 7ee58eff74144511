package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/promptaat/promptaat/app/controllers"
	"github.com/promptaat/promptaat/internal/pkg/middleware"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	controllers.InitializeBillingController()
	controllers.InitializeEntitlementController()

	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1")
	v1.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
	})

	// Webhooks authenticate via signature, not API key.
	v1.Post("/billing/webhook/stripe", controllers.HandleStripeWebhook)

	v1.Get("/entitlement", middleware.APIKeyAuthMiddleware(), controllers.HandleGetEntitlement)
}
