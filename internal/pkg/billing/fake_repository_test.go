package billing

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/promptaat/promptaat/app/models"
	"gorm.io/gorm"
)

// fakeRepository is an in-memory Repository double that mirrors the SQL
// semantics of the GORM implementation, including the conditional update
// guards.
type fakeRepository struct {
	subs   map[uint]*models.Subscription
	users  map[uint]bool
	plans  map[string]*models.SubscriptionPlan
	events map[string]*models.WebhookEvent

	nextSubID   uint
	nextEventID uint

	// failAll injects a persistence failure into every operation.
	failAll error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		subs:   make(map[uint]*models.Subscription),
		users:  make(map[uint]bool),
		plans:  make(map[string]*models.SubscriptionPlan),
		events: make(map[string]*models.WebhookEvent),
	}
}

func (f *fakeRepository) addUser(id uint) {
	f.users[id] = true
}

func (f *fakeRepository) addPlan(plan *models.SubscriptionPlan) {
	f.plans[plan.ExternalPriceID] = plan
}

func (f *fakeRepository) addSubscription(sub models.Subscription) *models.Subscription {
	f.nextSubID++
	sub.ID = f.nextSubID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	stored := sub
	f.subs[stored.ID] = &stored
	return &stored
}

func (f *fakeRepository) FindByExternalSubscriptionID(externalID string) (*models.Subscription, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	for _, sub := range f.subs {
		if sub.ExternalSubscriptionID == externalID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateSubscription(sub *models.Subscription) error {
	if f.failAll != nil {
		return f.failAll
	}
	for _, existing := range f.subs {
		if existing.ExternalSubscriptionID != "" && existing.ExternalSubscriptionID == sub.ExternalSubscriptionID {
			return gorm.ErrDuplicatedKey
		}
	}
	f.addSubscription(*sub)
	sub.ID = f.nextSubID
	return nil
}

func (f *fakeRepository) applyUpdates(sub *models.Subscription, updates map[string]interface{}) {
	for col, val := range updates {
		switch col {
		case "status":
			sub.Status = val.(string)
		case "cancel_at_period_end":
			sub.CancelAtPeriodEnd = val.(bool)
		case "current_period_start":
			t := val.(time.Time)
			sub.CurrentPeriodStart = &t
		case "current_period_end":
			t := val.(time.Time)
			sub.CurrentPeriodEnd = &t
		case "external_customer_id":
			sub.ExternalCustomerID = val.(string)
		case "plan_id":
			id := val.(uint)
			sub.PlanID = &id
		case "raw_payload_json":
			sub.RawPayloadJSON = val.(string)
		}
	}
}

func (f *fakeRepository) UpdateSubscriptionMonotonic(id uint, updates map[string]interface{}, newPeriodEnd time.Time) (int64, error) {
	if f.failAll != nil {
		return 0, f.failAll
	}
	sub, ok := f.subs[id]
	if !ok {
		return 0, nil
	}
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(newPeriodEnd) {
		return 0, nil
	}
	f.applyUpdates(sub, updates)
	return 1, nil
}

func (f *fakeRepository) UpdateSubscription(id uint, updates map[string]interface{}) error {
	if f.failAll != nil {
		return f.failAll
	}
	if sub, ok := f.subs[id]; ok {
		f.applyUpdates(sub, updates)
	}
	return nil
}

func (f *fakeRepository) UpdateSubscriptionIfStatus(id uint, fromStatus string, updates map[string]interface{}) (int64, error) {
	if f.failAll != nil {
		return 0, f.failAll
	}
	sub, ok := f.subs[id]
	if !ok || sub.Status != fromStatus {
		return 0, nil
	}
	f.applyUpdates(sub, updates)
	return 1, nil
}

func (f *fakeRepository) FindQualifying(userID uint, statuses []string, now time.Time) (*models.Subscription, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	var candidates []*models.Subscription
	for _, sub := range f.subs {
		if sub.UserID != userID {
			continue
		}
		matched := false
		for _, status := range statuses {
			if strings.EqualFold(sub.Status, status) {
				matched = true
				break
			}
		}
		if matched && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			candidates = append(candidates, sub)
		}
	}
	if len(candidates) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

func (f *fakeRepository) ForEachSubscription(batchSize int, fn func(sub *models.Subscription) error) error {
	if f.failAll != nil {
		return f.failAll
	}
	ids := make([]uint, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		cp := *f.subs[id]
		if err := fn(&cp); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepository) UserExists(userID uint) (bool, error) {
	if f.failAll != nil {
		return false, f.failAll
	}
	return f.users[userID], nil
}

func (f *fakeRepository) FindUserIDByExternalCustomerID(customerID string) (uint, error) {
	if f.failAll != nil {
		return 0, f.failAll
	}
	var best *models.Subscription
	for _, sub := range f.subs {
		if sub.ExternalCustomerID != customerID {
			continue
		}
		if best == nil || sub.CreatedAt.After(best.CreatedAt) {
			best = sub
		}
	}
	if best == nil {
		return 0, gorm.ErrRecordNotFound
	}
	return best.UserID, nil
}

func (f *fakeRepository) FindPlanByExternalPriceID(priceID string) (*models.SubscriptionPlan, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	if plan, ok := f.plans[priceID]; ok {
		cp := *plan
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if f.failAll != nil {
		return false, nil, f.failAll
	}
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	f.nextEventID++
	event.ID = f.nextEventID
	stored := *event
	f.events[key] = &stored
	cp := stored
	return true, &cp, nil
}

func (f *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	if f.failAll != nil {
		return f.failAll
	}
	for _, ev := range f.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

// fakeGateway is a ProcessorGateway double returning canned subscription
// state per external id.
type fakeGateway struct {
	subs  map[string]*NormalizedSubscriptionEvent
	err   error
	calls int
}

func (g *fakeGateway) GetSubscription(_ context.Context, externalSubscriptionID string) (*NormalizedSubscriptionEvent, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if ev, ok := g.subs[externalSubscriptionID]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}
