package entitlements

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/promptaat/promptaat/app/models"
	"gorm.io/gorm"
)

// SubscriptionSource is the read side the evaluator needs. Satisfied by the
// billing repository.
type SubscriptionSource interface {
	FindQualifying(userID uint, statuses []string, now time.Time) (*models.Subscription, error)
}

// SettingSource resolves runtime entitlement policy. Satisfied by the
// settings cache.
type SettingSource interface {
	GetBool(ctx context.Context, key string, def bool) bool
}

// Evaluator answers whether a user currently holds paid access. It is a pure
// read over subscription rows: a row qualifies when its canonical status is
// in the accepted-access set and its period end lies strictly in the future.
//
// Persistence failures are fail-closed: the user is reported as not
// subscribed and the error is logged, never propagated.
type Evaluator struct {
	subs     SubscriptionSource
	settings SettingSource
	now      func() time.Time
}

// NewEvaluator builds an evaluator. settings may be nil, in which case
// "incomplete" counts as paid access (the historical default).
func NewEvaluator(subs SubscriptionSource, settings SettingSource) *Evaluator {
	return &Evaluator{subs: subs, settings: settings, now: time.Now}
}

// IsSubscribed reports whether the user currently has paid access.
func (e *Evaluator) IsSubscribed(ctx context.Context, userID uint) bool {
	return e.ActiveSubscription(ctx, userID) != nil
}

// ActiveSubscription returns the qualifying subscription record with its plan
// preloaded, or nil when the user has none (or the lookup failed). When
// several rows qualify the most recently created one is returned.
func (e *Evaluator) ActiveSubscription(ctx context.Context, userID uint) *models.Subscription {
	if userID == 0 {
		return nil
	}

	sub, err := e.subs.FindQualifying(userID, e.accessStatuses(ctx), e.now())
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			// Fail closed: an outage reads as "not subscribed".
			log.Printf("entitlements: subscription lookup for user %d failed, treating as not subscribed: %v", userID, err)
		}
		return nil
	}
	return sub
}

// accessStatuses returns the canonical statuses that grant access. "active"
// always does; "incomplete" is governed by the entitlement_grant_incomplete
// setting because some processors leave paid subscriptions incomplete.
func (e *Evaluator) accessStatuses(ctx context.Context) []string {
	statuses := []string{models.SubscriptionStatusActive}
	grantIncomplete := true
	if e.settings != nil {
		grantIncomplete = e.settings.GetBool(ctx, models.SettingEntitlementGrantIncomplete, true)
	}
	if grantIncomplete {
		statuses = append(statuses, models.SubscriptionStatusIncomplete)
	}
	return statuses
}
