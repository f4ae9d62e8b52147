package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// The methods in this file apply asynchronous gateway events to the same
// subscription state machine the scheduled jobs drive. Webhook handlers
// call them; event-level deduplication has already happened by then.

// ApplyExternalPaymentSuccess reconciles a gateway-reported successful
// recurring charge. When the scheduled puller already recorded the cycle's
// SUCCESS the call is an idempotent no-op.
func (s *Service) ApplyExternalPaymentSuccess(ctx context.Context, subscriptionID uint, transactionID string, amount decimal.Decimal, occurredAt time.Time) error {
	sub, err := s.subs.GetByID(subscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", subscriptionID, err)
	}

	billingDate := occurredAt
	if sub.NextBillingDate != nil {
		billingDate = *sub.NextBillingDate
	}
	idemKey := IdempotencyKey(sub.ID, billingDate.In(s.cfg.Location))

	done, err := s.history.HasSuccessForKey(idemKey)
	if err != nil {
		return err
	}
	if done {
		log.Debugf("[Billing] cycle %s already settled, ignoring gateway success event", idemKey)
		return nil
	}

	plan, err := s.plans.GetByID(sub.PlanID)
	if err != nil {
		return fmt.Errorf("load plan %d: %w", sub.PlanID, err)
	}
	if amount.IsZero() {
		amount = plan.Price
	}

	entry := s.newLedgerEntry(sub, idemKey, "", amount, models.BillingStatusSuccess, "")
	sub.ApplyRenewal(plan.Extend(sub.EndDate))
	if err := s.subs.ApplyChargeSuccess(sub, entry); err != nil {
		return fmt.Errorf("apply gateway success for subscription %d: %w", sub.ID, err)
	}

	log.Infof("[Billing] reconciled gateway success for subscription %d (%s, txn %s)", sub.ID, idemKey, transactionID)
	return nil
}

// ApplyExternalPaymentFailure reconciles a gateway-reported failed
// recurring charge; it behaves like a failed scheduled attempt and
// consumes one retry slot.
func (s *Service) ApplyExternalPaymentFailure(ctx context.Context, subscriptionID uint, message string) error {
	sub, err := s.subs.GetByID(subscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", subscriptionID, err)
	}
	if sub.NextBillingDate == nil {
		return nil
	}
	idemKey := IdempotencyKey(sub.ID, sub.NextBillingDate.In(s.cfg.Location))

	entry := s.newLedgerEntry(sub, idemKey, "", decimal.Zero, models.BillingStatusFailed, message)
	if err := s.history.Create(entry); err != nil {
		return fmt.Errorf("record gateway failure for subscription %d: %w", sub.ID, err)
	}

	cycleStart, _ := s.dayWindow(*sub.NextBillingDate)
	failures, err := s.history.CountFailedSince(sub.ID, cycleStart)
	if err != nil {
		return err
	}
	if int(failures) >= s.cfg.MaxRetries && sub.IsChargeable() {
		s.deactivateRecurring(sub, "payment retry budget exhausted")
	}
	return nil
}

// RecordCancelledPayment appends a cancellation (refund / partial refund)
// row to the ledger. Paid access is not clawed back here; that decision
// belongs to support tooling.
func (s *Service) RecordCancelledPayment(ctx context.Context, subscriptionID uint, amount decimal.Decimal, reason string) error {
	sub, err := s.subs.GetByID(subscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", subscriptionID, err)
	}

	entry := s.newLedgerEntry(sub, "", "", amount, models.BillingStatusCancelled, reason)
	return s.history.Create(entry)
}

// RegisterBillingKey stores a gateway-issued billing key and resumes
// recurring billing that was abandoned for lack of a credential.
func (s *Service) RegisterBillingKey(ctx context.Context, userID uint, billingKey string, issuedAt *time.Time) error {
	if err := s.creds.UpsertBillingKey(userID, billingKey, issuedAt); err != nil {
		return fmt.Errorf("store billing key for user %d: %w", userID, err)
	}

	sub, err := s.subs.GetActiveByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if sub.ReactivateRecurring(s.now()) {
		if err := s.subs.Update(sub); err != nil {
			return fmt.Errorf("reactivate subscription %d: %w", sub.ID, err)
		}
		log.Infof("[Billing] recurring billing resumed for subscription %d after new billing key", sub.ID)
	}
	return nil
}

// RemoveBillingKey deactivates a revoked billing key. When the user has no
// credential left, auto-renew is switched off under the user's country
// policy (cancel-only countries cancel the recurring contract outright).
func (s *Service) RemoveBillingKey(ctx context.Context, userID uint, billingKey string) error {
	if err := s.creds.DeactivateByBillingKey(billingKey); err != nil {
		return fmt.Errorf("deactivate billing key: %w", err)
	}

	hasActive, err := s.creds.HasActiveForUser(userID)
	if err != nil {
		return err
	}
	if hasActive {
		return nil
	}
	return s.DisableAutoRenew(ctx, userID)
}

// DisableAutoRenew turns off automatic renewal for the user's active
// subscription according to their country's policy.
func (s *Service) DisableAutoRenew(ctx context.Context, userID uint) error {
	sub, err := s.subs.GetActiveByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}

	policy := PolicyForCountry(user.CountryCode)
	policy.DisableAutoRenew(sub)
	if err := s.subs.Update(sub); err != nil {
		return fmt.Errorf("disable auto-renew for subscription %d: %w", sub.ID, err)
	}

	log.Infof("[Billing] auto-renew disabled for subscription %d (policy %s)", sub.ID, policy.Name())
	return nil
}

// EnableAutoRenew switches automatic renewal back on where the country
// policy and the credential situation allow it.
func (s *Service) EnableAutoRenew(ctx context.Context, userID uint) error {
	sub, err := s.subs.GetActiveByUserID(userID)
	if err != nil {
		return err
	}
	if sub.RecurringStatus == models.RecurringStatusCancelled {
		return errors.New("cancelled subscriptions cannot resume auto-renew")
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	hasActive, err := s.creds.HasActiveForUser(userID)
	if err != nil {
		return err
	}

	if !PolicyForCountry(user.CountryCode).CanEnableAutoRenew(hasActive) {
		return errors.New("auto-renew cannot be enabled for this account")
	}

	sub.AutoRenew = true
	sub.RecurringStatus = models.RecurringStatusActive
	next := sub.EndDate
	if next.Before(s.now()) {
		next = s.now()
	}
	sub.NextBillingDate = &next
	return s.subs.Update(sub)
}
