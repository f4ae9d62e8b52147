package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// billingHistoryRepository implements the BillingHistoryRepository interface
type billingHistoryRepository struct {
	db *gorm.DB
}

// NewBillingHistoryRepository creates a new billing history repository instance
func NewBillingHistoryRepository(db *gorm.DB) BillingHistoryRepository {
	return &billingHistoryRepository{db: db}
}

// Create appends a ledger row. Rows are never updated or deleted.
func (r *billingHistoryRepository) Create(entry *models.BillingHistory) error {
	return r.db.Create(entry).Error
}

// HasSuccessForKey reports whether a SUCCESS row already exists for the
// given idempotency key (one terminal success per billing cycle).
func (r *billingHistoryRepository) HasSuccessForKey(idempotencyKey string) (bool, error) {
	var count int64
	err := r.db.Model(&models.BillingHistory{}).
		Where("idempotency_key = ? AND status = ?", idempotencyKey, models.BillingStatusSuccess).
		Count(&count).Error
	return count > 0, err
}

// HasSuccessSince reports whether the subscription has a SUCCESS row newer
// than the given time
func (r *billingHistoryRepository) HasSuccessSince(subscriptionID uint, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&models.BillingHistory{}).
		Where("subscription_id = ? AND status = ? AND processed_at > ?",
			subscriptionID, models.BillingStatusSuccess, since).
		Count(&count).Error
	return count > 0, err
}

// CountFailedSince counts failed attempts for the subscription newer than
// the given time
func (r *billingHistoryRepository) CountFailedSince(subscriptionID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.BillingHistory{}).
		Where("subscription_id = ? AND status = ? AND processed_at > ?",
			subscriptionID, models.BillingStatusFailed, since).
		Count(&count).Error
	return count, err
}

// SubscriptionIDsWithRecentFailure returns distinct subscription IDs with a
// failed row newer than the cutoff
func (r *billingHistoryRepository) SubscriptionIDsWithRecentFailure(cutoff time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.BillingHistory{}).
		Where("status = ? AND processed_at > ?", models.BillingStatusFailed, cutoff).
		Distinct("subscription_id").
		Order("subscription_id ASC").
		Pluck("subscription_id", &ids).Error
	return ids, err
}

// CountAllFailedSince counts failed rows across all subscriptions newer
// than the given time (health reporting)
func (r *billingHistoryRepository) CountAllFailedSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.BillingHistory{}).
		Where("status = ? AND processed_at > ?", models.BillingStatusFailed, since).
		Count(&count).Error
	return count, err
}

// LastSuccessAt returns the timestamp of the most recent SUCCESS row, or
// nil if none exists
func (r *billingHistoryRepository) LastSuccessAt() (*time.Time, error) {
	var entry models.BillingHistory
	err := r.db.
		Where("status = ?", models.BillingStatusSuccess).
		Order("processed_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := entry.ProcessedAt
	return &t, nil
}
