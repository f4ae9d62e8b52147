package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

var (
	webhookDispatcher *webhook.Dispatcher
	webhookEvents     repository.WebhookEventRepository
)

// InitializeWebhookController wires the webhook receiver's dependencies.
func InitializeWebhookController(dispatcher *webhook.Dispatcher, events repository.WebhookEventRepository) {
	webhookDispatcher = dispatcher
	webhookEvents = events
}

// HandleGatewayWebhook accepts asynchronous gateway callbacks. Each step
// is a hard gate: signature over the exact raw bytes, then payload shape,
// then deduplication, then dispatch. Side effects only happen for the
// delivery that created the event row.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))
	secret := env.GetEnv("WEBHOOK_SECRET", "")

	if !webhook.VerifySignature(rawBody, signature, secret) {
		log.Warnf("[Webhook] rejected delivery from %s: invalid signature", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	payload, err := webhookDispatcher.ParsePayload(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	eventID := firstHeaderValue(c, "X-Webhook-Event-ID", "X-Webhook-Delivery")
	if eventID == "" {
		eventID = strings.TrimSpace(payload.EventID)
	}
	if eventID == "" {
		eventID = webhook.FallbackEventID(rawBody)
	}

	created, stored, err := webhookEvents.CreateIfNotExists(&models.WebhookEvent{
		EventID:        eventID,
		EventType:      payload.EventType,
		EventTimestamp: payload.ParsedTimestamp(),
		PayloadJSON:    string(rawBody),
		SignatureValid: true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		// Redelivery or a concurrent duplicate: the creating delivery owns
		// the side effects, unprocessed leftovers belong to the retry job.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webhookDispatcher.Process(ctx, stored, payload); err != nil {
		log.Errorf("[Webhook] event %s handler failed: %v", eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "handler_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
