package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/promptaat/promptaat/app/repository"
	"github.com/promptaat/promptaat/internal/pkg/billing"
	"github.com/promptaat/promptaat/internal/pkg/cache"
	"github.com/promptaat/promptaat/internal/pkg/database"
	"github.com/promptaat/promptaat/internal/pkg/entitlements"
	"github.com/promptaat/promptaat/internal/pkg/settings"
	"github.com/promptaat/promptaat/internal/pkg/usercontext"
)

var settingsCache *settings.Cache

// InitializeEntitlementController builds the settings cache used to resolve
// entitlement policy at request time.
func InitializeEntitlementController() {
	settingsCache = settings.NewCache(
		repository.GetGlobalFactory().GetSettingRepository(),
		&settings.RedisBackend{Client: cache.GetClient()},
		5*time.Minute,
	)
}

// HandleGetEntitlement reports whether the authenticated user currently holds
// paid access, plus the qualifying window. Lookup failures read as not
// subscribed.
func HandleGetEntitlement(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	evaluator := entitlements.NewEvaluator(billing.NewRepository(database.GetDB()), settingsCache)
	sub := evaluator.ActiveSubscription(c.UserContext(), userCtx.UserID)
	if sub == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscribed": false})
	}

	resp := fiber.Map{
		"subscribed":           true,
		"status":               sub.Status,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd != nil {
		resp["current_period_end"] = sub.CurrentPeriodEnd
	}
	if sub.Plan != nil {
		resp["plan"] = sub.Plan.Name
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
