package models

import "time"

const (
	SubscriptionStatusActive  = "active"
	SubscriptionStatusExpired = "expired"
)

const (
	RecurringStatusActive    = "active"
	RecurringStatusInactive  = "inactive"
	RecurringStatusCancelled = "cancelled"
)

// Subscription represents a user's right to paid access together with the
// auto-billing intent. Status tracks whether paid access is currently
// valid; RecurringStatus tracks whether the engine keeps charging.
type Subscription struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PlanID          uint       `gorm:"not null;index" json:"plan_id"`
	Status          string     `gorm:"type:varchar(32);not null;default:'active';index:idx_subscriptions_user_status,priority:2" json:"status"`
	RecurringStatus string     `gorm:"type:varchar(32);not null;default:'active';index" json:"recurring_status"`
	AutoRenew       bool       `gorm:"default:true" json:"auto_renew"`
	NextBillingDate *time.Time `gorm:"type:timestamp;default:null;index" json:"next_billing_date,omitempty"`
	EndDate         time.Time  `gorm:"type:timestamp;not null;index" json:"end_date"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsChargeable reports whether the engine may attempt a charge at all.
func (s *Subscription) IsChargeable() bool {
	return s.Status == SubscriptionStatusActive &&
		s.RecurringStatus == RecurringStatusActive &&
		s.AutoRenew
}

// ApplyRenewal advances the paid period after a successful charge. The
// next billing date always equals the new end date.
func (s *Subscription) ApplyRenewal(newEndDate time.Time) {
	s.EndDate = newEndDate
	next := newEndDate
	s.NextBillingDate = &next
}

// DeactivateRecurring abandons automatic billing after the retry budget
// is exhausted. NextBillingDate is cleared to keep the invariant that it
// is only set while recurring billing is active.
func (s *Subscription) DeactivateRecurring() {
	s.RecurringStatus = RecurringStatusInactive
	s.NextBillingDate = nil
}

// ReactivateRecurring resumes automatic billing after a new credential
// was registered. Cancelled subscriptions stay cancelled. A period that
// already ran out becomes due immediately.
func (s *Subscription) ReactivateRecurring(now time.Time) bool {
	if s.RecurringStatus != RecurringStatusInactive || !s.AutoRenew {
		return false
	}
	s.RecurringStatus = RecurringStatusActive
	next := s.EndDate
	if next.Before(now) {
		next = now
	}
	s.NextBillingDate = &next
	return true
}
