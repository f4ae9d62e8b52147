package repository

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
}

// PlanRepository defines the interface for plan catalog lookups
type PlanRepository interface {
	GetByID(id uint) (*models.Plan, error)
	GetByCode(code string) (*models.Plan, error)
}

// SubscriptionRepository defines the interface for subscription-related
// database operations
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetActiveByUserID(userID uint) (*models.Subscription, error)
	Update(sub *models.Subscription) error
	// FindDue returns subscriptions whose next billing date falls inside
	// [dayStart, dayEnd) and that are still set up for recurring billing.
	FindDue(dayStart, dayEnd time.Time) ([]models.Subscription, error)
	CountDue(dayStart, dayEnd time.Time) (int64, error)
	// ApplyChargeSuccess persists the ledger row and the advanced
	// subscription fields in one transaction.
	ApplyChargeSuccess(sub *models.Subscription, entry *models.BillingHistory) error
	// ApplyRecurringDeactivation persists the terminal ledger row and the
	// deactivated subscription in one transaction.
	ApplyRecurringDeactivation(sub *models.Subscription, entry *models.BillingHistory) error
}

// BillingHistoryRepository defines the interface for the append-only
// charge ledger. There is intentionally no update or delete.
type BillingHistoryRepository interface {
	Create(entry *models.BillingHistory) error
	HasSuccessForKey(idempotencyKey string) (bool, error)
	HasSuccessSince(subscriptionID uint, since time.Time) (bool, error)
	CountFailedSince(subscriptionID uint, since time.Time) (int64, error)
	// SubscriptionIDsWithRecentFailure returns distinct subscription IDs
	// holding at least one failed row newer than the cutoff.
	SubscriptionIDsWithRecentFailure(cutoff time.Time) ([]uint, error)
	CountAllFailedSince(since time.Time) (int64, error)
	LastSuccessAt() (*time.Time, error)
}

// WebhookEventRepository defines the interface for the webhook processing log
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless its EventID is already
	// recorded. The bool reports whether this call created the row.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetByEventID(eventID string) (*models.WebhookEvent, error)
	MarkProcessed(id uint) error
	// RecordFailure increments the retry counter and stores the last error,
	// leaving the event unprocessed for the retry job.
	RecordFailure(id uint, processingErr string) error
	FindUnprocessed(since time.Time, maxRetries int, limit int) ([]models.WebhookEvent, error)
	DeleteProcessedOlderThan(cutoff time.Time) (int64, error)
}

// PaymentCredentialRepository defines the interface for stored billing keys
type PaymentCredentialRepository interface {
	GetActiveByUserID(userID uint) (*models.PaymentCredential, error)
	HasActiveForUser(userID uint) (bool, error)
	UpsertBillingKey(userID uint, billingKey string, issuedAt *time.Time) error
	DeactivateByBillingKey(billingKey string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User           UserRepository
	Plan           PlanRepository
	Subscription   SubscriptionRepository
	BillingHistory BillingHistoryRepository
	WebhookEvent   WebhookEventRepository
	Credential     PaymentCredentialRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:           NewUserRepository(db),
		Plan:           NewPlanRepository(db),
		Subscription:   NewSubscriptionRepository(db),
		BillingHistory: NewBillingHistoryRepository(db),
		WebhookEvent:   NewWebhookEventRepository(db),
		Credential:     NewPaymentCredentialRepository(db),
	}
}
