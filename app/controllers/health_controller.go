package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HandleBillingHealth reports the billing pipeline's vital signs: how much
// work is due today, how often charges failed recently, and when the last
// successful charge landed.
func HandleBillingHealth(c *fiber.Ctx) error {
	report, err := jobsBillingService.Health(jobContext(c))
	if err != nil {
		log.Errorf("[Health] billing health check failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "health_check_failed"})
	}

	var lastSuccess string
	if report.LastSuccessAt != nil {
		lastSuccess = report.LastSuccessAt.UTC().Format(time.RFC3339)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":          "ok",
		"due_today":       report.DueToday,
		"failed_last_24h": report.FailedLast24h,
		"last_success_at": lastSuccess,
		"checked_at":      time.Now().UTC().Format(time.RFC3339),
	})
}
