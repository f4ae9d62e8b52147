package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

// Service orchestrates scheduled charging and reconciles gateway events
// into subscription state. All collaborators are injected; the process
// entry point owns their lifecycle.
type Service struct {
	subs    repository.SubscriptionRepository
	history repository.BillingHistoryRepository
	creds   repository.PaymentCredentialRepository
	plans   repository.PlanRepository
	users   repository.UserRepository
	gw      gateway.Charger
	cfg     Config

	now func() time.Time
}

// NewService creates a billing service from injected repositories.
func NewService(repos *repository.Repositories, gw gateway.Charger, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 72 * time.Hour
	}
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 15 * time.Second
	}
	return &Service{
		subs:    repos.Subscription,
		history: repos.BillingHistory,
		creds:   repos.Credential,
		plans:   repos.Plan,
		users:   repos.User,
		gw:      gw,
		cfg:     cfg,
		now:     time.Now,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gw gateway.Charger, cfg Config) *Service {
	return NewService(repository.NewRepositories(db), gw, cfg)
}

// IdempotencyKey derives the deterministic key for one billing cycle
// (subscription x billing date). Re-running a day's batch reuses the key,
// so the gateway never charges the cycle twice.
func IdempotencyKey(subscriptionID uint, billingDate time.Time) string {
	return fmt.Sprintf("sub-%d-%s", subscriptionID, billingDate.Format("2006-01-02"))
}

// dayWindow returns the calendar day [start, end) containing t in the
// configured timezone.
func (s *Service) dayWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(s.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
	return start, start.AddDate(0, 0, 1)
}

// ProcessSubscriptionsDue charges every subscription whose next billing
// date falls on the current calendar day. Each subscription is handled in
// isolation: one failure never blocks the rest, and a crashed run is safe
// to resume because charged subscriptions are no longer due.
func (s *Service) ProcessSubscriptionsDue(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), StartedAt: s.now()}
	dayStart, dayEnd := s.dayWindow(report.StartedAt)

	due, err := s.subs.FindDue(dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("find due subscriptions: %w", err)
	}

	log.Infof("[Billing] run %s: %d subscriptions due on %s", report.RunID, len(due), dayStart.Format("2006-01-02"))

	for i := range due {
		sub := due[i]
		switch outcome := s.chargeSubscription(ctx, &sub); outcome {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeFailed:
			report.Failed++
		case outcomeDeactivated:
			report.Deactivated++
		case outcomeSkipped:
			report.Skipped++
		}
		report.Processed++
	}

	report.FinishedAt = s.now()
	return report, nil
}

// RetryFailedPayments re-attempts recent failed charges within the grace
// period. Once a cycle has burned its retry budget, recurring billing is
// abandoned until the user registers a new credential.
func (s *Service) RetryFailedPayments(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), StartedAt: s.now()}
	cutoff := report.StartedAt.Add(-s.cfg.GracePeriod)
	_, dayEnd := s.dayWindow(report.StartedAt)

	ids, err := s.history.SubscriptionIDsWithRecentFailure(cutoff)
	if err != nil {
		return nil, fmt.Errorf("find retry candidates: %w", err)
	}

	log.Infof("[Billing] retry run %s: %d candidates since %s", report.RunID, len(ids), cutoff.Format(time.RFC3339))

	for _, id := range ids {
		sub, err := s.subs.GetByID(id)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Errorf("[Billing] retry run %s: load subscription %d: %v", report.RunID, id, err)
			}
			continue
		}
		if !sub.IsChargeable() || sub.NextBillingDate == nil {
			continue
		}
		// An out-of-band recovery advances NextBillingDate into a future
		// cycle. That subscription is no longer due; charging it here would
		// bill the next cycle ahead of schedule.
		if !sub.NextBillingDate.Before(dayEnd) {
			report.Skipped++
			continue
		}

		cycleStart, _ := s.dayWindow(*sub.NextBillingDate)
		recovered, err := s.history.HasSuccessSince(sub.ID, cycleStart)
		if err != nil {
			log.Errorf("[Billing] retry run %s: ledger lookup for subscription %d: %v", report.RunID, sub.ID, err)
			continue
		}
		if recovered {
			report.Skipped++
			continue
		}

		failures, err := s.history.CountFailedSince(sub.ID, cycleStart)
		if err != nil {
			log.Errorf("[Billing] retry run %s: count failures for subscription %d: %v", report.RunID, sub.ID, err)
			continue
		}
		if int(failures) >= s.cfg.MaxRetries {
			if s.deactivateRecurring(sub, "payment retry budget exhausted") {
				report.Deactivated++
			}
			report.Processed++
			continue
		}

		switch outcome := s.chargeSubscription(ctx, sub); outcome {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeFailed:
			report.Failed++
			// The attempt that just failed may have been the last slot.
			if int(failures)+1 >= s.cfg.MaxRetries {
				if s.deactivateRecurring(sub, "payment retry budget exhausted") {
					report.Deactivated++
				}
			}
		case outcomeDeactivated:
			report.Deactivated++
		case outcomeSkipped:
			report.Skipped++
		}
		report.Processed++
	}

	report.FinishedAt = s.now()
	return report, nil
}

type chargeOutcome int

const (
	outcomeSucceeded chargeOutcome = iota
	outcomeFailed
	outcomeDeactivated
	outcomeSkipped
)

// chargeSubscription performs exactly one charge attempt for the
// subscription's current cycle and records a terminal ledger row for it.
// The subscription advances only on success; on failure it stays due.
func (s *Service) chargeSubscription(ctx context.Context, sub *models.Subscription) chargeOutcome {
	if sub.NextBillingDate == nil {
		return outcomeSkipped
	}
	billingDate := sub.NextBillingDate.In(s.cfg.Location)
	idemKey := IdempotencyKey(sub.ID, billingDate)

	// Re-run guard: a SUCCESS row for this cycle means the charge already
	// happened (scheduled run or webhook reconciliation).
	done, err := s.history.HasSuccessForKey(idemKey)
	if err != nil {
		log.Errorf("[Billing] ledger lookup for %s: %v", idemKey, err)
		return outcomeSkipped
	}
	if done {
		return outcomeSkipped
	}

	plan, err := s.plans.GetByID(sub.PlanID)
	if err != nil {
		log.Errorf("[Billing] subscription %d references unknown plan %d: %v", sub.ID, sub.PlanID, err)
		s.recordFailure(sub, idemKey, "", decimal.Zero, "plan lookup failed: "+err.Error())
		return outcomeFailed
	}

	cred, err := s.creds.GetActiveByUserID(sub.UserID)
	if err != nil {
		msg := "no active payment credential"
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			msg = "credential lookup failed: " + err.Error()
		}
		s.recordFailure(sub, idemKey, "", plan.Price, msg)
		return outcomeFailed
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	defer cancel()

	result, err := s.gw.Charge(chargeCtx, gateway.ChargeRequest{
		BillingKey:     cred.BillingKey,
		IdempotencyKey: idemKey,
		OrderName:      fmt.Sprintf("%s renewal", plan.Name),
		Amount:         plan.Price,
		Currency:       plan.Currency,
	})
	if err != nil {
		// Fault (timeout, 5xx, transport): transient, the cycle stays due.
		s.recordFailure(sub, idemKey, cred.BillingKey, plan.Price, err.Error())
		return outcomeFailed
	}

	if !result.Approved {
		if !result.Retriable {
			// The gateway marked the decline permanent; further retries
			// are pointless for this credential.
			entry := s.newLedgerEntry(sub, idemKey, cred.BillingKey, plan.Price, models.BillingStatusFailed,
				fmt.Sprintf("%s: %s (non-retriable)", result.FailureCode, result.FailureMessage))
			sub.DeactivateRecurring()
			if err := s.subs.ApplyRecurringDeactivation(sub, entry); err != nil {
				log.Errorf("[Billing] deactivate subscription %d: %v", sub.ID, err)
				return outcomeFailed
			}
			return outcomeDeactivated
		}
		s.recordFailure(sub, idemKey, cred.BillingKey, plan.Price, fmt.Sprintf("%s: %s", result.FailureCode, result.FailureMessage))
		return outcomeFailed
	}

	entry := s.newLedgerEntry(sub, idemKey, cred.BillingKey, plan.Price, models.BillingStatusSuccess, "")
	sub.ApplyRenewal(plan.Extend(sub.EndDate))
	if err := s.subs.ApplyChargeSuccess(sub, entry); err != nil {
		// The gateway charge went through but we could not persist it.
		// The idempotency key protects the re-run: the gateway will replay
		// the approval instead of charging again.
		log.Errorf("[Billing] persist successful charge for subscription %d: %v", sub.ID, err)
		return outcomeFailed
	}

	log.Infof("[Billing] charged subscription %d (%s), paid through %s", sub.ID, idemKey, sub.EndDate.Format("2006-01-02"))
	return outcomeSucceeded
}

func (s *Service) newLedgerEntry(sub *models.Subscription, idemKey, billingKey string, amount decimal.Decimal, status, errMsg string) *models.BillingHistory {
	return &models.BillingHistory{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		BillingKeyRef:  billingKey,
		Amount:         amount,
		Status:         status,
		ErrorMessage:   errMsg,
		IdempotencyKey: idemKey,
		ProcessedAt:    s.now(),
	}
}

func (s *Service) recordFailure(sub *models.Subscription, idemKey, billingKey string, amount decimal.Decimal, msg string) {
	entry := s.newLedgerEntry(sub, idemKey, billingKey, amount, models.BillingStatusFailed, msg)
	if err := s.history.Create(entry); err != nil {
		// Persistence error aborts only this subscription's unit of work;
		// the health endpoint surfaces the gap via failure counts.
		log.Errorf("[Billing] record failed charge for subscription %d: %v", sub.ID, err)
		return
	}
	log.Warnf("[Billing] charge failed for subscription %d (%s): %s", sub.ID, idemKey, msg)
}

func (s *Service) deactivateRecurring(sub *models.Subscription, reason string) bool {
	entry := s.newLedgerEntry(sub, "", "", decimal.Zero, models.BillingStatusCancelled, reason)
	sub.DeactivateRecurring()
	if err := s.subs.ApplyRecurringDeactivation(sub, entry); err != nil {
		log.Errorf("[Billing] deactivate subscription %d: %v", sub.ID, err)
		return false
	}
	log.Warnf("[Billing] recurring billing abandoned for subscription %d: %s", sub.ID, reason)
	return true
}

// Health reports the numbers external uptime monitoring watches: how much
// work is due today, how many charges failed recently and when the last
// charge succeeded.
func (s *Service) Health(ctx context.Context) (*HealthReport, error) {
	now := s.now()
	dayStart, dayEnd := s.dayWindow(now)

	due, err := s.subs.CountDue(dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	failed, err := s.history.CountAllFailedSince(now.Add(-24 * time.Hour))
	if err != nil {
		return nil, err
	}
	lastSuccess, err := s.history.LastSuccessAt()
	if err != nil {
		return nil, err
	}

	return &HealthReport{
		DueToday:      due,
		FailedLast24h: failed,
		LastSuccessAt: lastSuccess,
	}, nil
}
