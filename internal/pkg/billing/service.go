package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/promptaat/promptaat/app/models"
	"gorm.io/gorm"
)

// Service reconciles payment-processor lifecycle events onto local
// subscription records. Event application is idempotent and tolerates
// duplicate and out-of-order delivery.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// ApplySubscriptionEvent maps one processor event onto the local subscription
// row identified by its external subscription id, creating the row on first
// sight. The stored access window never shrinks except on explicit
// cancellation; stale events are dropped and reported as ResultStale.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, ev NormalizedSubscriptionEvent) (*models.Subscription, ApplyResult, error) {
	_ = ctx
	externalID := strings.TrimSpace(ev.ExternalSubscriptionID)
	if externalID == "" {
		return nil, "", ErrMissingSubscriptionID
	}

	status := models.CanonicalStatus(ev.Status)
	if status == "" {
		status = models.SubscriptionStatusIncomplete
	}
	if ev.CurrentPeriodStart != nil && ev.CurrentPeriodEnd != nil &&
		!ev.CurrentPeriodEnd.After(*ev.CurrentPeriodStart) {
		return nil, "", fmt.Errorf("%w: start=%s end=%s", ErrInvalidPeriod,
			ev.CurrentPeriodStart.Format(time.RFC3339), ev.CurrentPeriodEnd.Format(time.RFC3339))
	}

	existing, err := s.repo.FindByExternalSubscriptionID(externalID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("billing: subscription lookup failed: %w", err)
	}

	if existing == nil {
		return s.createFromEvent(ev, externalID, status)
	}
	return s.updateFromEvent(ev, existing, status)
}

func (s *Service) createFromEvent(ev NormalizedSubscriptionEvent, externalID, status string) (*models.Subscription, ApplyResult, error) {
	userID, err := s.resolveUser(ev)
	if err != nil {
		return nil, "", err
	}

	sub := &models.Subscription{
		UserID:                 userID,
		Status:                 status,
		CurrentPeriodStart:     ev.CurrentPeriodStart,
		CurrentPeriodEnd:       ev.CurrentPeriodEnd,
		CancelAtPeriodEnd:      ev.CancelAtPeriodEnd,
		ExternalSubscriptionID: externalID,
		ExternalCustomerID:     strings.TrimSpace(ev.ExternalCustomerID),
		RawPayloadJSON:         ev.RawPayloadJSON,
	}
	if plan := s.lookupPlan(ev.ExternalPriceID); plan != nil {
		sub.PlanID = &plan.ID
		sub.Plan = plan
	}
	if err := s.repo.CreateSubscription(sub); err != nil {
		// A concurrent delivery may have created the row first; fall back to
		// updating it so replays stay idempotent.
		if dup, lookupErr := s.repo.FindByExternalSubscriptionID(externalID); lookupErr == nil {
			return s.updateFromEvent(ev, dup, status)
		}
		return nil, "", fmt.Errorf("billing: subscription create failed: %w", err)
	}
	return sub, ResultCreated, nil
}

func (s *Service) updateFromEvent(ev NormalizedSubscriptionEvent, existing *models.Subscription, status string) (*models.Subscription, ApplyResult, error) {
	cancellation := ev.Cancellation || status == models.SubscriptionStatusCanceled

	// canceled is terminal: only a renewed cancellation may touch the row.
	if existing.IsCanceled() && !cancellation {
		return existing, ResultTerminal, nil
	}

	updates := map[string]interface{}{
		"status":               status,
		"cancel_at_period_end": ev.CancelAtPeriodEnd,
	}
	if ev.RawPayloadJSON != "" {
		updates["raw_payload_json"] = ev.RawPayloadJSON
	}
	if strings.TrimSpace(ev.ExternalCustomerID) != "" {
		updates["external_customer_id"] = strings.TrimSpace(ev.ExternalCustomerID)
	}
	if plan := s.lookupPlan(ev.ExternalPriceID); plan != nil {
		updates["plan_id"] = plan.ID
	}

	if cancellation {
		// The event may carry only one side of the window; validate the
		// window that would actually be stored after the merge.
		start, end := existing.CurrentPeriodStart, existing.CurrentPeriodEnd
		if ev.CurrentPeriodStart != nil {
			start = ev.CurrentPeriodStart
			updates["current_period_start"] = *ev.CurrentPeriodStart
		}
		if ev.CurrentPeriodEnd != nil {
			end = ev.CurrentPeriodEnd
			updates["current_period_end"] = *ev.CurrentPeriodEnd
		}
		if start != nil && end != nil && !end.After(*start) {
			return nil, "", fmt.Errorf("%w: merged window start=%s end=%s", ErrInvalidPeriod,
				start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		if err := s.repo.UpdateSubscription(existing.ID, updates); err != nil {
			return nil, "", fmt.Errorf("billing: cancellation update failed: %w", err)
		}
		return s.reload(existing, ResultUpdated)
	}

	if ev.CurrentPeriodEnd == nil {
		// No window information: status-only update, window untouched.
		if err := s.repo.UpdateSubscription(existing.ID, updates); err != nil {
			return nil, "", fmt.Errorf("billing: subscription update failed: %w", err)
		}
		return s.reload(existing, ResultUpdated)
	}

	if ev.CurrentPeriodStart != nil {
		updates["current_period_start"] = *ev.CurrentPeriodStart
	}
	updates["current_period_end"] = *ev.CurrentPeriodEnd

	affected, err := s.repo.UpdateSubscriptionMonotonic(existing.ID, updates, *ev.CurrentPeriodEnd)
	if err != nil {
		return nil, "", fmt.Errorf("billing: subscription update failed: %w", err)
	}
	if affected == 0 {
		log.Printf("billing: dropped stale event for subscription %s (stored window newer than event)", existing.ExternalSubscriptionID)
		return existing, ResultStale, nil
	}
	return s.reload(existing, ResultUpdated)
}

func (s *Service) reload(existing *models.Subscription, result ApplyResult) (*models.Subscription, ApplyResult, error) {
	sub, err := s.repo.FindByExternalSubscriptionID(existing.ExternalSubscriptionID)
	if err != nil {
		return existing, result, nil
	}
	return sub, result, nil
}

// resolveUser maps event metadata onto a local user. First-time events must
// carry a user id; later deliveries can fall back to the customer linkage
// already recorded on another row.
func (s *Service) resolveUser(ev NormalizedSubscriptionEvent) (uint, error) {
	if ev.UserID != 0 {
		ok, err := s.repo.UserExists(ev.UserID)
		if err != nil {
			return 0, fmt.Errorf("billing: user lookup failed: %w", err)
		}
		if ok {
			return ev.UserID, nil
		}
		return 0, fmt.Errorf("%w: user %d not found", ErrUserNotResolvable, ev.UserID)
	}

	customerID := strings.TrimSpace(ev.ExternalCustomerID)
	if customerID != "" {
		userID, err := s.repo.FindUserIDByExternalCustomerID(customerID)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("billing: customer lookup failed: %w", err)
		}
	}
	return 0, ErrUserNotResolvable
}

func (s *Service) lookupPlan(externalPriceID string) *models.SubscriptionPlan {
	priceID := strings.TrimSpace(externalPriceID)
	if priceID == "" {
		return nil
	}
	plan, err := s.repo.FindPlanByExternalPriceID(priceID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("billing: plan lookup for price %s failed: %v", priceID, err)
		}
		return nil
	}
	return plan
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}
