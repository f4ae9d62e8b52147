package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/ratelimit"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limiter := ratelimit.NewLimiterFromCache()

	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PayFox API",
		})
	})

	webhooks := api.Group("/webhooks", ratelimit.Middleware(limiter, "webhook:", 120, 60))
	webhooks.Post("/payment", controllers.HandleGatewayWebhook)

	jobs := api.Group("/internal/jobs", middleware.SchedulerAuthMiddleware(), ratelimit.Middleware(limiter, "jobs:", 30, 60))
	jobs.Post("/process-due", controllers.HandleProcessDue)
	jobs.Post("/retry-payments", controllers.HandleRetryPayments)
	jobs.Post("/retry-webhooks", controllers.HandleRetryWebhooks)
	jobs.Post("/cleanup-webhooks", controllers.HandleCleanupWebhooks)

	api.Get("/health/billing", controllers.HandleBillingHealth)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
