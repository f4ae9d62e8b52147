package models

import "time"

// Well-known gateway event types dispatched by the webhook receiver.
const (
	EventPaymentSucceeded          = "payment.succeeded"
	EventPaymentFailed             = "payment.failed"
	EventPaymentCancelled          = "payment.cancelled"
	EventPaymentPartiallyCancelled = "payment.partially_cancelled"
	EventBillingKeyIssued          = "billing_key.issued"
	EventBillingKeyUpdated         = "billing_key.updated"
	EventBillingKeyRemoved         = "billing_key.removed"
	EventRecurringSucceeded        = "recurring.succeeded"
	EventRecurringFailed           = "recurring.failed"
)

// WebhookEvent stores gateway webhook payloads with deduplication metadata
// for idempotent processing. The unique EventID index is the atomic
// check-and-mark point for duplicate deliveries.
type WebhookEvent struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	EventID        string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventType      string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	EventTimestamp *time.Time `gorm:"type:timestamp;default:null" json:"event_timestamp,omitempty"`
	PayloadJSON    string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt    *time.Time `gorm:"type:timestamp;default:null;index" json:"processed_at,omitempty"`
	RetryCount     int        `gorm:"not null;default:0" json:"retry_count"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Processed reports whether the event's side effects have been applied.
func (e *WebhookEvent) Processed() bool {
	return e.ProcessedAt != nil
}
