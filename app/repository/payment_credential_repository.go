package repository

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentCredentialRepository implements the PaymentCredentialRepository interface
type paymentCredentialRepository struct {
	db *gorm.DB
}

// NewPaymentCredentialRepository creates a new payment credential repository instance
func NewPaymentCredentialRepository(db *gorm.DB) PaymentCredentialRepository {
	return &paymentCredentialRepository{db: db}
}

// GetActiveByUserID retrieves the user's newest active billing key
func (r *paymentCredentialRepository) GetActiveByUserID(userID uint) (*models.PaymentCredential, error) {
	var cred models.PaymentCredential
	err := r.db.
		Where("user_id = ? AND active = ?", userID, true).
		Order("id DESC").
		First(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// HasActiveForUser reports whether the user holds any active billing key
func (r *paymentCredentialRepository) HasActiveForUser(userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.PaymentCredential{}).
		Where("user_id = ? AND active = ?", userID, true).
		Count(&count).Error
	return count > 0, err
}

// UpsertBillingKey stores or refreshes a gateway-issued billing key for the
// user. Older keys for the same user remain but only the stored one is
// marked active by the gateway lifecycle events.
func (r *paymentCredentialRepository) UpsertBillingKey(userID uint, billingKey string, issuedAt *time.Time) error {
	cred := &models.PaymentCredential{
		UserID:     userID,
		BillingKey: billingKey,
		Active:     true,
		IssuedAt:   issuedAt,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "billing_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"active",
			"issued_at",
			"updated_at",
		}),
	}).Create(cred).Error
}

// DeactivateByBillingKey marks the key unusable after the gateway revoked it
func (r *paymentCredentialRepository) DeactivateByBillingKey(billingKey string) error {
	return r.db.Model(&models.PaymentCredential{}).
		Where("billing_key = ?", billingKey).
		Update("active", false).Error
}
