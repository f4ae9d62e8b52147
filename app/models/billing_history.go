package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BillingStatusSuccess   = "success"
	BillingStatusFailed    = "failed"
	BillingStatusCancelled = "cancelled"
)

// BillingHistory is the append-only ledger: one row per charge attempt or
// billing lifecycle event. Rows are never mutated after creation; the
// repository only exposes Create and queries.
type BillingHistory struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID uint            `gorm:"not null;index:idx_billing_histories_sub_created,priority:1" json:"subscription_id"`
	UserID         uint            `gorm:"not null;index" json:"user_id"`
	BillingKeyRef  string          `gorm:"type:varchar(191);not null;default:''" json:"billing_key_ref"`
	Amount         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status         string          `gorm:"type:varchar(32);not null;index" json:"status"`
	ErrorMessage   string          `gorm:"type:text" json:"error_message"`
	IdempotencyKey string          `gorm:"type:varchar(191);not null;default:'';index" json:"idempotency_key"`
	ProcessedAt    time.Time       `gorm:"type:timestamp;not null;index" json:"processed_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index:idx_billing_histories_sub_created,priority:2" json:"created_at"`
}
