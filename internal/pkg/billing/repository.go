package billing

import (
	"time"

	"github.com/promptaat/promptaat/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service, the status
// normalizer and the entitlement evaluator.
type Repository interface {
	FindByExternalSubscriptionID(externalID string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	// UpdateSubscriptionMonotonic applies updates only while the stored
	// current_period_end does not exceed newPeriodEnd. The guard is part of
	// the UPDATE statement so concurrent events cannot lose writes.
	UpdateSubscriptionMonotonic(id uint, updates map[string]interface{}, newPeriodEnd time.Time) (int64, error)
	UpdateSubscription(id uint, updates map[string]interface{}) error
	// UpdateSubscriptionIfStatus applies updates only while the stored
	// status still equals fromStatus, so repair never overwrites a
	// concurrent reconciliation.
	UpdateSubscriptionIfStatus(id uint, fromStatus string, updates map[string]interface{}) (int64, error)
	FindQualifying(userID uint, statuses []string, now time.Time) (*models.Subscription, error)
	ForEachSubscription(batchSize int, fn func(sub *models.Subscription) error) error

	UserExists(userID uint) (bool, error)
	FindUserIDByExternalCustomerID(customerID string) (uint, error)
	FindPlanByExternalPriceID(priceID string) (*models.SubscriptionPlan, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindByExternalSubscriptionID(externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Plan").
		Where("external_subscription_id = ?", externalID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) UpdateSubscriptionMonotonic(id uint, updates map[string]interface{}, newPeriodEnd time.Time) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND (current_period_end IS NULL OR current_period_end <= ?)", id, newPeriodEnd).
		Updates(updates)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) UpdateSubscription(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) UpdateSubscriptionIfStatus(id uint, fromStatus string, updates map[string]interface{}) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) FindQualifying(userID uint, statuses []string, now time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	// LOWER() tolerates legacy rows written before status canonicalization.
	err := r.db.Preload("Plan").
		Where("user_id = ? AND LOWER(status) IN ? AND current_period_end > ?", userID, statuses, now).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ForEachSubscription(batchSize int, fn func(sub *models.Subscription) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	var batch []models.Subscription
	return r.db.Preload("Plan").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	}).Error
}

func (r *gormRepository) UserExists(userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) FindUserIDByExternalCustomerID(customerID string) (uint, error) {
	var sub models.Subscription
	err := r.db.Select("user_id").
		Where("external_customer_id = ?", customerID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return 0, err
	}
	return sub.UserID, nil
}

func (r *gormRepository) FindPlanByExternalPriceID(priceID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.Where("external_price_id = ? AND is_active = ?", priceID, true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
