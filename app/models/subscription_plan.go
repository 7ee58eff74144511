package models

import "time"

// SubscriptionPlan holds plan/price tier metadata. Informational for
// entitlement evaluation; the interval drives period repair.
type SubscriptionPlan struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=1,max=100"`
	ExternalPriceID string    `gorm:"type:varchar(191);default:null;uniqueIndex" json:"external_price_id,omitempty"`
	BillingInterval string    `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	AmountCents     int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency        string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
