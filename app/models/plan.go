package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is the read-only price catalog the billing engine charges against.
// Plan administration happens outside this service.
type Plan struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Code           string          `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	Name           string          `gorm:"type:varchar(150);not null" json:"name"`
	Price          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	IntervalMonths int             `gorm:"not null;default:1" json:"interval_months"`
	IsActive       bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Extend returns the end date advanced by one plan interval.
func (p *Plan) Extend(from time.Time) time.Time {
	months := p.IntervalMonths
	if months <= 0 {
		months = 1
	}
	return from.AddDate(0, months, 0)
}
