package models

import "time"

// PaymentCredential stores a gateway-issued billing key as an opaque
// reference. Encryption at rest is handled outside this service; the
// engine never inspects the key beyond passing it back to the gateway.
type PaymentCredential struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;index:idx_payment_credentials_user_active,priority:1" json:"user_id"`
	BillingKey string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"-"`
	Active     bool       `gorm:"default:true;index:idx_payment_credentials_user_active,priority:2" json:"active"`
	IssuedAt   *time.Time `gorm:"type:timestamp;default:null" json:"issued_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
