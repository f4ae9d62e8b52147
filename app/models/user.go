package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User carries only the fields the billing engine needs; account
// management lives outside this service.
type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(150)" json:"name"`
	Email       string         `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	CountryCode string         `gorm:"type:varchar(2);not null;default:'';index" json:"country_code"`
	Status      string         `gorm:"type:varchar(50);default:'active'" json:"status"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
