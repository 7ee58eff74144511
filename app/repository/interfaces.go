package repository

import (
	"github.com/promptaat/promptaat/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// SettingRepository defines the interface for setting-related database operations
type SettingRepository interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
	List() ([]models.Setting, error)
}

// PlanRepository defines the interface for subscription plan operations
type PlanRepository interface {
	Create(plan *models.SubscriptionPlan) error
	GetByID(id uint) (*models.SubscriptionPlan, error)
	GetByExternalPriceID(priceID string) (*models.SubscriptionPlan, error)
	ListActive() ([]models.SubscriptionPlan, error)
	Update(plan *models.SubscriptionPlan) error
}

// Repositories holds all repository instances
type Repositories struct {
	User    UserRepository
	Setting SettingRepository
	Plan    PlanRepository
}
