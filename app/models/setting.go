package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Well-known setting keys.
const (
	// SettingEntitlementGrantIncomplete controls whether "incomplete"
	// subscriptions count as paid access. Stored as "true"/"false".
	SettingEntitlementGrantIncomplete = "entitlement_grant_incomplete"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Setting) Validate() error {
	v := validator.New()

	return v.Struct(s)
}
