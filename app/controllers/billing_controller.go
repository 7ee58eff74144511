package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/promptaat/promptaat/app/models"
	"github.com/promptaat/promptaat/internal/pkg/billing"
	"github.com/promptaat/promptaat/internal/pkg/database"
)

var billingGateway *billing.StripeGateway

// InitializeBillingController wires the Stripe gateway from the environment.
func InitializeBillingController() {
	billingGateway = billing.NewStripeGatewayFromEnv()
}

// HandleStripeWebhook receives signed Stripe events and reconciles them onto
// local subscription rows. Delivery is at-least-once and unordered; dedup
// happens on the recorded event row, window regression is blocked by the
// reconciliation service.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	event, verifyErr := billingGateway.VerifyEvent(rawBody, signature)
	if verifyErr != nil {
		// Record the rejected delivery for audit before refusing it.
		_, _, _ = svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
			Provider:       models.BillingProviderStripe,
			PayloadJSON:    string(rawBody),
			SignatureValid: false,
		})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	// Only successfully processed deliveries short-circuit. A replay of a
	// delivery that failed (transient outage, user not yet provisioned) must
	// run again; application is idempotent, so re-applying is safe.
	if !created && stored.Processed() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	normalized, err := billingGateway.NormalizeEvent(ctx, event)
	if err != nil {
		if errors.Is(err, billing.ErrEventIgnored) {
			_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		}
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	_, result, applyErr := svc.ApplySubscriptionEvent(ctx, *normalized)
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, applyErr)
	if applyErr != nil {
		switch {
		case errors.Is(applyErr, billing.ErrUserNotResolvable):
			// Data error, not transient: the transport must not retry it.
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "user_not_resolvable"})
		case errors.Is(applyErr, billing.ErrInvalidPeriod), errors.Is(applyErr, billing.ErrMissingSubscriptionID):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_sync_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "result": string(result)})
}
