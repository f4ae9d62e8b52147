package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

var (
	jobsBillingService *billing.Service
	jobsWebhookRetry   *webhook.RetryJob
)

// InitializeJobsController wires the scheduler trigger endpoints.
func InitializeJobsController(svc *billing.Service, retry *webhook.RetryJob) {
	jobsBillingService = svc
	jobsWebhookRetry = retry
}

// HandleProcessDue runs the daily subscription billing cycle.
func HandleProcessDue(c *fiber.Ctx) error {
	report, err := jobsBillingService.ProcessSubscriptionsDue(jobContext(c))
	if err != nil {
		log.Errorf("[Jobs] process-due failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "job_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"job":       "process-due",
		"report":    report,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleRetryPayments re-attempts recently failed charges inside the grace period.
func HandleRetryPayments(c *fiber.Ctx) error {
	report, err := jobsBillingService.RetryFailedPayments(jobContext(c))
	if err != nil {
		log.Errorf("[Jobs] retry-payments failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "job_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"job":       "retry-payments",
		"report":    report,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleRetryWebhooks replays stored webhook events that never processed.
func HandleRetryWebhooks(c *fiber.Ctx) error {
	report, err := jobsWebhookRetry.ProcessFailedWebhooks(jobContext(c))
	if err != nil {
		log.Errorf("[Jobs] retry-webhooks failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "job_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"job":       "retry-webhooks",
		"report":    report,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleCleanupWebhooks purges processed webhook events past retention.
func HandleCleanupWebhooks(c *fiber.Ctx) error {
	retentionDays := 30
	if raw := c.Query("retention_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_retention_days"})
		}
		retentionDays = parsed
	}

	deleted, err := jobsWebhookRetry.CleanupOldWebhooks(jobContext(c), retentionDays)
	if err != nil {
		log.Errorf("[Jobs] cleanup-webhooks failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "job_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"job":            "cleanup-webhooks",
		"deleted":        deleted,
		"retention_days": retentionDays,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func jobContext(c *fiber.Ctx) context.Context {
	return c.UserContext()
}
