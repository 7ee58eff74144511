package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Canonical subscription lifecycle states. Stored lower-case so reads can do
// exact-match comparisons.
const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusUnpaid     = "unpaid"
)

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

// Subscription mirrors one user's billing relationship with the payment
// processor. A user accumulates rows over time; historical rows are kept for
// audit and never hard-deleted in normal operation.
type Subscription struct {
	ID                     uint              `gorm:"primaryKey" json:"id"`
	UUID                   string            `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	UserID                 uint              `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PlanID                 *uint             `gorm:"index" json:"plan_id,omitempty"`
	Plan                   *SubscriptionPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status                 string            `gorm:"type:varchar(32);not null;default:'incomplete';index:idx_subscriptions_user_status,priority:2" json:"status"`
	CurrentPeriodStart     *time.Time        `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time        `gorm:"type:timestamp;default:null;index" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool              `gorm:"default:false" json:"cancel_at_period_end"`
	ExternalSubscriptionID string            `gorm:"type:varchar(191);default:null;uniqueIndex" json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string            `gorm:"type:varchar(191);default:null;index" json:"external_customer_id,omitempty"`
	RawPayloadJSON         string            `gorm:"type:longtext" json:"-"`
	CreatedAt              time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the public identifier.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(s.UUID) == "" {
		s.UUID = uuid.New().String()
	}
	return nil
}

// CanonicalStatus returns the lower-case form of a status string.
func CanonicalStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IsCanceled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return CanonicalStatus(s.Status) == SubscriptionStatusCanceled
}

// PeriodEndsAfter reports whether the paid-access window extends past t.
func (s *Subscription) PeriodEndsAfter(t time.Time) bool {
	return s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(t)
}

// NormalizeBillingInterval folds processor interval spellings onto the
// canonical set. "monthly"/"month" -> month, "yearly"/"annual"/"year" -> year,
// anything else -> unknown.
func NormalizeBillingInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month", "monthly":
		return BillingIntervalMonth
	case "year", "yearly", "annual", "annually":
		return BillingIntervalYear
	default:
		return BillingIntervalUnknown
	}
}
