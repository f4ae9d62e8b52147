package repository

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a new subscription
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// GetByID retrieves a subscription by its ID
func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetActiveByUserID retrieves the user's active subscription. The engine
// relies on at most one active subscription existing per user.
func (r *subscriptionRepository) GetActiveByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Update persists subscription field changes
func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// FindDue returns subscriptions due for charging within the given day window
func (r *subscriptionRepository) FindDue(dayStart, dayEnd time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND recurring_status = ? AND auto_renew = ?",
			models.SubscriptionStatusActive, models.RecurringStatusActive, true).
		Where("next_billing_date IS NOT NULL AND next_billing_date >= ? AND next_billing_date < ?", dayStart, dayEnd).
		Order("next_billing_date ASC").
		Find(&subs).Error
	return subs, err
}

// CountDue counts subscriptions due within the given day window
func (r *subscriptionRepository) CountDue(dayStart, dayEnd time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("status = ? AND recurring_status = ? AND auto_renew = ?",
			models.SubscriptionStatusActive, models.RecurringStatusActive, true).
		Where("next_billing_date IS NOT NULL AND next_billing_date >= ? AND next_billing_date < ?", dayStart, dayEnd).
		Count(&count).Error
	return count, err
}

// ApplyChargeSuccess writes the SUCCESS ledger row and the advanced
// subscription fields atomically. Either both land or the subscription is
// left exactly as it was, so a retry sees a consistent prior state.
func (r *subscriptionRepository) ApplyChargeSuccess(sub *models.Subscription, entry *models.BillingHistory) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		return tx.Save(sub).Error
	})
}

// ApplyRecurringDeactivation writes the terminal ledger row and the
// deactivated subscription atomically.
func (r *subscriptionRepository) ApplyRecurringDeactivation(sub *models.Subscription, entry *models.BillingHistory) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		return tx.Save(sub).Error
	})
}
