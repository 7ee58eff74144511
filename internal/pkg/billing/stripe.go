package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/promptaat/promptaat/app/models"
	"github.com/promptaat/promptaat/internal/pkg/env"
)

// ProcessorGateway performs supplementary lookups against the payment
// processor. The normalizer uses it to corroborate stale rows before
// repairing them; invoice events use it to resolve their subscription state.
type ProcessorGateway interface {
	GetSubscription(ctx context.Context, externalSubscriptionID string) (*NormalizedSubscriptionEvent, error)
}

// ErrEventIgnored marks event types the reconciler does not act on.
var ErrEventIgnored = errors.New("billing: event type not handled")

// StripeGateway adapts Stripe webhooks and API lookups onto the normalized
// event shape.
type StripeGateway struct {
	webhookSecret string
}

// NewStripeGateway configures the shared Stripe client key and returns a
// gateway bound to the given webhook signing secret.
func NewStripeGateway(apiKey, webhookSecret string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{webhookSecret: webhookSecret}
}

// NewStripeGatewayFromEnv reads STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET.
func NewStripeGatewayFromEnv() *StripeGateway {
	return NewStripeGateway(
		strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	)
}

// VerifyEvent checks the Stripe-Signature header against the raw payload and
// returns the parsed event.
func (g *StripeGateway) VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("billing: webhook signature verification failed: %w", err)
	}
	return event, nil
}

// NormalizeEvent maps a verified Stripe event onto a
// NormalizedSubscriptionEvent. Invoice events carry no full subscription
// object, so their subscription is re-fetched through the gateway.
func (g *StripeGateway) NormalizeEvent(ctx context.Context, event stripe.Event) (*NormalizedSubscriptionEvent, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return normalizeSubscriptionPayload(event, false)
	case "customer.subscription.deleted":
		return normalizeSubscriptionPayload(event, true)
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		subID, err := invoiceSubscriptionID(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		ev, err := g.GetSubscription(ctx, subID)
		if err != nil {
			return nil, err
		}
		ev.ProviderEventID = event.ID
		ev.EventType = string(event.Type)
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}
}

// GetSubscription fetches the live subscription state from Stripe.
func (g *StripeGateway) GetSubscription(_ context.Context, externalSubscriptionID string) (*NormalizedSubscriptionEvent, error) {
	id := strings.TrimSpace(externalSubscriptionID)
	if id == "" {
		return nil, ErrMissingSubscriptionID
	}
	sub, err := subscription.Get(id, &stripe.SubscriptionParams{})
	if err != nil {
		return nil, fmt.Errorf("billing: stripe subscription fetch failed: %w", err)
	}

	ev := &NormalizedSubscriptionEvent{
		Provider:               models.BillingProviderStripe,
		ExternalSubscriptionID: sub.ID,
		Status:                 string(sub.Status),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		Cancellation:           sub.Status == stripe.SubscriptionStatusCanceled,
		UserID:                 userIDFromMetadata(sub.Metadata),
	}
	if sub.Customer != nil {
		ev.ExternalCustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			t := time.Unix(item.CurrentPeriodStart, 0).UTC()
			ev.CurrentPeriodStart = &t
		}
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			ev.CurrentPeriodEnd = &t
		}
		if item.Price != nil {
			ev.ExternalPriceID = item.Price.ID
			if item.Price.Recurring != nil {
				ev.BillingInterval = models.NormalizeBillingInterval(string(item.Price.Recurring.Interval))
			}
		}
	}
	return ev, nil
}

// stripeSubscriptionPayload covers the fields this service reads from a
// subscription event body. Period timestamps sit at the top level on older
// API versions and on the subscription item on newer ones; both are read.
type stripeSubscriptionPayload struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Customer           stripeIDRef       `json:"customer"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// stripeIDRef accepts both the expanded-object and plain-string forms Stripe
// uses for references.
type stripeIDRef string

func (r *stripeIDRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = stripeIDRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = stripeIDRef(obj.ID)
	return nil
}

func normalizeSubscriptionPayload(event stripe.Event, cancellation bool) (*NormalizedSubscriptionEvent, error) {
	var payload stripeSubscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return nil, fmt.Errorf("billing: parse subscription event: %w", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return nil, ErrMissingSubscriptionID
	}

	ev := &NormalizedSubscriptionEvent{
		Provider:               models.BillingProviderStripe,
		ProviderEventID:        event.ID,
		EventType:              string(event.Type),
		ExternalSubscriptionID: payload.ID,
		ExternalCustomerID:     string(payload.Customer),
		Status:                 payload.Status,
		CancelAtPeriodEnd:      payload.CancelAtPeriodEnd,
		Cancellation:           cancellation,
		UserID:                 userIDFromMetadata(payload.Metadata),
		RawPayloadJSON:         string(event.Data.Raw),
	}

	start, end := payload.CurrentPeriodStart, payload.CurrentPeriodEnd
	if end == 0 && len(payload.Items.Data) > 0 {
		start = payload.Items.Data[0].CurrentPeriodStart
		end = payload.Items.Data[0].CurrentPeriodEnd
	}
	if start > 0 {
		t := time.Unix(start, 0).UTC()
		ev.CurrentPeriodStart = &t
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		ev.CurrentPeriodEnd = &t
	}
	if len(payload.Items.Data) > 0 {
		ev.ExternalPriceID = payload.Items.Data[0].Price.ID
		ev.BillingInterval = models.NormalizeBillingInterval(payload.Items.Data[0].Price.Recurring.Interval)
	}
	return ev, nil
}

// invoicePayload covers the subscription reference of an invoice event. The
// reference moved under parent.subscription_details on newer API versions.
type invoicePayload struct {
	Subscription stripeIDRef `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription stripeIDRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func invoiceSubscriptionID(raw json.RawMessage) (string, error) {
	var payload invoicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("billing: parse invoice event: %w", err)
	}
	if id := strings.TrimSpace(string(payload.Subscription)); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(string(payload.Parent.SubscriptionDetails.Subscription)); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: invoice carries no subscription reference", ErrEventIgnored)
}

func userIDFromMetadata(metadata map[string]string) uint {
	for _, key := range []string{"user_id", "userId", "userID"} {
		if v, ok := metadata[key]; ok {
			if id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil && id > 0 {
				return uint(id)
			}
		}
	}
	return 0
}
