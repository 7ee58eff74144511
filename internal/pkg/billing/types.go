package billing

import (
	"errors"
	"time"
)

// NormalizedSubscriptionEvent is the provider-agnostic shape of a payment
// processor lifecycle event, produced by a transport adapter (Stripe webhook)
// and consumed by the reconciliation service.
type NormalizedSubscriptionEvent struct {
	Provider               string
	ProviderEventID        string
	EventType              string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	// Cancellation marks an explicit cancellation event. Only these may
	// shrink the recorded access window.
	Cancellation    bool
	ExternalPriceID string
	BillingInterval string
	// UserID comes from processor metadata. Required the first time a
	// subscription is seen; ignored afterwards.
	UserID         uint
	RawPayloadJSON string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// ApplyResult describes what a reconciliation pass did with an event.
type ApplyResult string

const (
	// ResultCreated means a new subscription row was created.
	ResultCreated ApplyResult = "created"
	// ResultUpdated means an existing row was updated in place.
	ResultUpdated ApplyResult = "updated"
	// ResultStale means the event carried an older access window than the
	// stored row and was dropped by the monotonic guard.
	ResultStale ApplyResult = "stale"
	// ResultTerminal means the stored row is canceled and the event was not
	// a cancellation, so it was ignored.
	ResultTerminal ApplyResult = "terminal"
)

var (
	// ErrUserNotResolvable is returned when a first-time subscription event
	// carries no usable user reference.
	ErrUserNotResolvable = errors.New("billing: event user is not resolvable")
	// ErrInvalidPeriod is returned when an event's period end does not lie
	// strictly after its period start.
	ErrInvalidPeriod = errors.New("billing: current_period_end must be after current_period_start")
	// ErrMissingSubscriptionID is returned for events without an external
	// subscription identifier.
	ErrMissingSubscriptionID = errors.New("billing: external subscription id is required")
)

// AdvancePeriod returns start moved forward by one billing interval. Unknown
// intervals advance by 30 days.
func AdvancePeriod(start time.Time, interval string) time.Time {
	switch interval {
	case "month":
		return start.AddDate(0, 1, 0)
	case "year":
		return start.AddDate(1, 0, 0)
	default:
		return start.Add(30 * 24 * time.Hour)
	}
}
