package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
)

// Dispatcher routes verified, deduplicated gateway events to their
// handlers and records the processing outcome. Handler errors leave the
// event unprocessed so the retry job re-drives it.
type Dispatcher struct {
	billing  *billing.Service
	events   repository.WebhookEventRepository
	validate *validator.Validate
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(billingSvc *billing.Service, events repository.WebhookEventRepository) *Dispatcher {
	return &Dispatcher{
		billing:  billingSvc,
		events:   events,
		validate: validator.New(),
	}
}

// ParsePayload decodes and validates the webhook body. Malformed payloads
// are rejected before any side effect.
func (d *Dispatcher) ParsePayload(raw []byte) (*EventPayload, error) {
	var payload EventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if err := d.validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &payload, nil
}

// Process dispatches the payload's handler and marks the stored event
// processed on success. On handler failure the retry counter is bumped and
// the error is returned so the receiver can signal the gateway to retry.
func (d *Dispatcher) Process(ctx context.Context, stored *models.WebhookEvent, payload *EventPayload) error {
	if err := d.dispatch(ctx, payload); err != nil {
		if recErr := d.events.RecordFailure(stored.ID, err.Error()); recErr != nil {
			log.Errorf("[Webhook] record failure for event %s: %v", stored.EventID, recErr)
		}
		return err
	}
	if err := d.events.MarkProcessed(stored.ID); err != nil {
		return fmt.Errorf("mark event %s processed: %w", stored.EventID, err)
	}
	return nil
}

// dispatch applies the event's side effects. Unknown event types are
// acknowledged without effects.
func (d *Dispatcher) dispatch(ctx context.Context, payload *EventPayload) error {
	var data EventData
	if err := json.Unmarshal(payload.Data, &data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}

	switch payload.EventType {
	case models.EventPaymentSucceeded, models.EventRecurringSucceeded:
		if data.SubscriptionID == 0 {
			return fmt.Errorf("event %s: subscriptionId is required", payload.EventType)
		}
		occurredAt := timeOrNow(payload)
		return d.billing.ApplyExternalPaymentSuccess(ctx, data.SubscriptionID, data.TransactionID, data.Amount, occurredAt)

	case models.EventPaymentFailed, models.EventRecurringFailed:
		if data.SubscriptionID == 0 {
			return fmt.Errorf("event %s: subscriptionId is required", payload.EventType)
		}
		reason := data.Reason
		if reason == "" {
			reason = "payment failed (gateway webhook)"
		}
		return d.billing.ApplyExternalPaymentFailure(ctx, data.SubscriptionID, reason)

	case models.EventPaymentCancelled, models.EventPaymentPartiallyCancelled:
		if data.SubscriptionID == 0 {
			return fmt.Errorf("event %s: subscriptionId is required", payload.EventType)
		}
		reason := data.Reason
		if reason == "" {
			reason = payload.EventType
		}
		return d.billing.RecordCancelledPayment(ctx, data.SubscriptionID, data.Amount, reason)

	case models.EventBillingKeyIssued, models.EventBillingKeyUpdated:
		if data.UserID == 0 || data.BillingKey == "" {
			return fmt.Errorf("event %s: userId and billingKey are required", payload.EventType)
		}
		return d.billing.RegisterBillingKey(ctx, data.UserID, data.BillingKey, data.IssuedAt)

	case models.EventBillingKeyRemoved:
		if data.UserID == 0 || data.BillingKey == "" {
			return fmt.Errorf("event %s: userId and billingKey are required", payload.EventType)
		}
		return d.billing.RemoveBillingKey(ctx, data.UserID, data.BillingKey)

	default:
		log.Infof("[Webhook] ignoring unhandled event type %q", payload.EventType)
		return nil
	}
}

func timeOrNow(payload *EventPayload) time.Time {
	if ts := payload.ParsedTimestamp(); ts != nil {
		return *ts
	}
	return time.Now()
}
