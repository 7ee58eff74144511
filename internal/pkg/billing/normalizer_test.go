package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptaat/promptaat/app/models"
)

func fixedNow(s string) func() time.Time {
	return func() time.Time { return *ts(s) }
}

func newTestNormalizer(repo Repository, gateway ProcessorGateway) *Normalizer {
	n := NewNormalizer(repo, gateway)
	n.now = fixedNow("2024-03-15T12:00:00Z")
	return n
}

func TestNormalizer_CaseNormalization(t *testing.T) {
	repo := newFakeRepository()
	sub := repo.addSubscription(models.Subscription{
		UserID:                 1,
		Status:                 "Active",
		CurrentPeriodEnd:       ts("2024-06-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_1",
	})
	n := newTestNormalizer(repo, nil)

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.CaseNormalized)
	assert.Equal(t, 0, report.PeriodRepaired)
	assert.Equal(t, "active", repo.subs[sub.ID].Status)
}

func TestNormalizer_RepairsStaleIncompleteRow(t *testing.T) {
	repo := newFakeRepository()
	plan := &models.SubscriptionPlan{ID: 1, Name: "Pro", ExternalPriceID: "price_pro", BillingInterval: models.BillingIntervalMonth}
	planID := plan.ID
	sub := repo.addSubscription(models.Subscription{
		UserID:                 1,
		PlanID:                 &planID,
		Plan:                   plan,
		Status:                 models.SubscriptionStatusIncomplete,
		CurrentPeriodStart:     ts("2024-01-01T00:00:00Z"),
		CurrentPeriodEnd:       ts("2024-02-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_1",
	})
	n := newTestNormalizer(repo, nil)

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PeriodRepaired)

	repaired := repo.subs[sub.ID]
	assert.Equal(t, models.SubscriptionStatusActive, repaired.Status)
	assert.Equal(t, ts("2024-02-01T00:00:00Z").UTC(), repaired.CurrentPeriodEnd.UTC(),
		"new period end is start plus one billing interval")
}

func TestNormalizer_SecondRunIsNoop(t *testing.T) {
	repo := newFakeRepository()
	planID := uint(1)
	repo.addSubscription(models.Subscription{
		UserID:                 1,
		PlanID:                 &planID,
		Plan:                   &models.SubscriptionPlan{ID: 1, BillingInterval: models.BillingIntervalMonth},
		Status:                 "Incomplete",
		CurrentPeriodStart:     ts("2024-01-01T00:00:00Z"),
		CurrentPeriodEnd:       ts("2024-02-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_1",
	})
	n := newTestNormalizer(repo, nil)

	first, err := n.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.CaseNormalized)
	require.Equal(t, 1, first.PeriodRepaired)

	second, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.CaseNormalized)
	assert.Equal(t, 0, second.PeriodRepaired)
	assert.Equal(t, 1, second.Unchanged)
}

func TestNormalizer_LeavesCurrentIncompleteAlone(t *testing.T) {
	repo := newFakeRepository()
	repo.addSubscription(models.Subscription{
		UserID:                 1,
		Status:                 models.SubscriptionStatusIncomplete,
		CurrentPeriodStart:     ts("2024-03-01T00:00:00Z"),
		CurrentPeriodEnd:       ts("2024-04-01T00:00:00Z"), // still in the future
		ExternalSubscriptionID: "sub_1",
	})
	n := newTestNormalizer(repo, nil)

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.PeriodRepaired)
	assert.Equal(t, 1, report.Unchanged)
}

func TestNormalizer_CorroborationSkipsDeadSubscriptions(t *testing.T) {
	repo := newFakeRepository()
	sub := repo.addSubscription(models.Subscription{
		UserID:                 1,
		Status:                 models.SubscriptionStatusIncomplete,
		CurrentPeriodStart:     ts("2024-01-01T00:00:00Z"),
		CurrentPeriodEnd:       ts("2024-02-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_1",
	})
	gateway := &fakeGateway{subs: map[string]*NormalizedSubscriptionEvent{
		"sub_1": {ExternalSubscriptionID: "sub_1", Status: "canceled"},
	}}
	n := newTestNormalizer(repo, gateway)

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.PeriodRepaired)
	assert.Equal(t, models.SubscriptionStatusIncomplete, repo.subs[sub.ID].Status,
		"rows the processor reports dead must not be promoted")
}

func TestNormalizer_CorroborationConfirmsRepair(t *testing.T) {
	repo := newFakeRepository()
	sub := repo.addSubscription(models.Subscription{
		UserID:                 1,
		Status:                 models.SubscriptionStatusIncomplete,
		CurrentPeriodStart:     ts("2024-01-01T00:00:00Z"),
		CurrentPeriodEnd:       ts("2024-02-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_1",
	})
	gateway := &fakeGateway{subs: map[string]*NormalizedSubscriptionEvent{
		"sub_1": {ExternalSubscriptionID: "sub_1", Status: "active"},
	}}
	n := newTestNormalizer(repo, gateway)

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PeriodRepaired)
	assert.Equal(t, models.SubscriptionStatusActive, repo.subs[sub.ID].Status)
}

func TestNormalizer_RowErrorsDoNotAbortScan(t *testing.T) {
	repo := newFakeRepository()
	// Missing period start makes the repair impossible for this row.
	repo.addSubscription(models.Subscription{
		UserID:                 1,
		Status:                 models.SubscriptionStatusIncomplete,
		CurrentPeriodEnd:       ts("2024-02-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_broken",
	})
	repo.addSubscription(models.Subscription{
		UserID:                 2,
		Status:                 "PAST_DUE",
		CurrentPeriodEnd:       ts("2024-06-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_ok",
	})
	n := newTestNormalizer(repo, nil)

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.CaseNormalized, "later rows still get repaired")
}

func TestNormalizer_GatewayErrorCountsAsRowError(t *testing.T) {
	repo := newFakeRepository()
	repo.addSubscription(models.Subscription{
		UserID:                 1,
		Status:                 models.SubscriptionStatusIncomplete,
		CurrentPeriodStart:     ts("2024-01-01T00:00:00Z"),
		CurrentPeriodEnd:       ts("2024-02-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_1",
	})
	n := newTestNormalizer(repo, &fakeGateway{err: errors.New("processor unavailable")})

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.PeriodRepaired)
}

func TestNormalizer_DryRunWritesNothing(t *testing.T) {
	repo := newFakeRepository()
	sub := repo.addSubscription(models.Subscription{
		UserID:                 1,
		Status:                 "Incomplete",
		CurrentPeriodStart:     ts("2024-01-01T00:00:00Z"),
		CurrentPeriodEnd:       ts("2024-02-01T00:00:00Z"),
		ExternalSubscriptionID: "sub_1",
	})
	n := newTestNormalizer(repo, nil)
	n.DryRun = true

	report, err := n.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CaseNormalized)
	assert.Equal(t, 1, report.PeriodRepaired)

	stored := repo.subs[sub.ID]
	assert.Equal(t, "Incomplete", stored.Status, "dry run must not persist changes")
	assert.Equal(t, ts("2024-02-01T00:00:00Z").UTC(), stored.CurrentPeriodEnd.UTC())
}

func TestNormalizer_ScanFailureAbortsRun(t *testing.T) {
	repo := newFakeRepository()
	repo.failAll = errors.New("db gone")
	n := newTestNormalizer(repo, nil)

	_, err := n.Run(context.Background())
	require.Error(t, err)
}

func TestAdvancePeriod(t *testing.T) {
	start := *ts("2024-01-31T00:00:00Z")

	tests := []struct {
		name     string
		interval string
		want     time.Time
	}{
		{"month", models.BillingIntervalMonth, *ts("2024-03-02T00:00:00Z")},
		{"year", models.BillingIntervalYear, *ts("2025-01-31T00:00:00Z")},
		{"unknown falls back to 30 days", models.BillingIntervalUnknown, start.AddDate(0, 0, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdvancePeriod(start, tt.interval)
			if !got.Equal(tt.want) {
				t.Fatalf("AdvancePeriod(%s, %s) = %s, want %s", start.Format(time.RFC3339), tt.interval, got.Format(time.RFC3339), tt.want.Format(time.RFC3339))
			}
		})
	}
}
