package repository

import (
	"github.com/promptaat/promptaat/app/models"
	"gorm.io/gorm"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) Create(plan *models.SubscriptionPlan) error {
	return r.db.Create(plan).Error
}

func (r *planRepository) GetByID(id uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetByExternalPriceID(priceID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.Where("external_price_id = ?", priceID).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) ListActive() ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := r.db.Where("is_active = ?", true).Order("amount_cents ASC").Find(&plans).Error
	return plans, err
}

func (r *planRepository) Update(plan *models.SubscriptionPlan) error {
	return r.db.Save(plan).Error
}
