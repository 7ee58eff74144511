package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/promptaat/promptaat/app/models"
	"gorm.io/gorm"
)

// NormalizeReport aggregates what one normalizer run did.
type NormalizeReport struct {
	Scanned        int
	CaseNormalized int
	PeriodRepaired int
	Unchanged      int
	Skipped        int
	Errors         int
}

func (r *NormalizeReport) String() string {
	return fmt.Sprintf("scanned=%d case_normalized=%d period_repaired=%d unchanged=%d skipped=%d errors=%d",
		r.Scanned, r.CaseNormalized, r.PeriodRepaired, r.Unchanged, r.Skipped, r.Errors)
}

// Normalizer repairs historical data-quality defects in subscription rows:
// non-canonical status casing, and stale "incomplete" rows whose period
// already ended. It is maintenance tooling, not part of the live request
// path; every operation is idempotent and row failures never abort the run.
type Normalizer struct {
	repo Repository
	// gateway, when set, corroborates stale incomplete rows against the
	// processor before promoting them. Optional.
	gateway ProcessorGateway
	now     func() time.Time

	BatchSize int
	DryRun    bool
}

// NewNormalizer creates a normalizer over the given repository. gateway may
// be nil, in which case stale incomplete rows are repaired heuristically.
func NewNormalizer(repo Repository, gateway ProcessorGateway) *Normalizer {
	return &Normalizer{repo: repo, gateway: gateway, now: time.Now, BatchSize: 200}
}

// NewNormalizerFromDB creates a normalizer from a GORM DB handle.
func NewNormalizerFromDB(db *gorm.DB, gateway ProcessorGateway) *Normalizer {
	return NewNormalizer(NewRepository(db), gateway)
}

// Run scans every subscription row and applies both repair operations.
func (n *Normalizer) Run(ctx context.Context) (*NormalizeReport, error) {
	report := &NormalizeReport{}
	now := n.now()

	err := n.repo.ForEachSubscription(n.BatchSize, func(sub *models.Subscription) error {
		report.Scanned++
		changed, err := n.repairRow(ctx, sub, now, report)
		if err != nil {
			report.Errors++
			log.Printf("normalizer: subscription %d left untouched: %v", sub.ID, err)
			return nil // catch-and-continue per row
		}
		if !changed {
			report.Unchanged++
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("normalizer: scan failed: %w", err)
	}
	return report, nil
}

func (n *Normalizer) repairRow(ctx context.Context, sub *models.Subscription, now time.Time, report *NormalizeReport) (bool, error) {
	changed := false
	canonical := models.CanonicalStatus(sub.Status)

	// Op 1: rewrite non-canonical status casing.
	if canonical != sub.Status {
		if !n.DryRun {
			affected, err := n.repo.UpdateSubscriptionIfStatus(sub.ID, sub.Status, map[string]interface{}{
				"status": canonical,
			})
			if err != nil {
				return changed, err
			}
			if affected == 0 {
				// Row moved under us; leave it to the next run.
				report.Skipped++
				return true, nil
			}
		}
		sub.Status = canonical
		report.CaseNormalized++
		changed = true
	}

	// Op 2: promote stale incomplete rows whose confirmation event was lost.
	if canonical != models.SubscriptionStatusIncomplete {
		return changed, nil
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(now) {
		return changed, nil
	}
	if sub.CurrentPeriodStart == nil {
		return changed, fmt.Errorf("cannot recompute period without current_period_start")
	}

	if n.gateway != nil {
		live, err := n.gateway.GetSubscription(ctx, sub.ExternalSubscriptionID)
		if err != nil {
			return changed, fmt.Errorf("processor corroboration failed: %w", err)
		}
		switch models.CanonicalStatus(live.Status) {
		case models.SubscriptionStatusCanceled, models.SubscriptionStatusUnpaid:
			// Processor says the payment really is gone; do not grant access.
			report.Skipped++
			return true, nil
		}
	}

	interval := models.BillingIntervalUnknown
	if sub.Plan != nil {
		interval = models.NormalizeBillingInterval(sub.Plan.BillingInterval)
	}
	newEnd := AdvancePeriod(*sub.CurrentPeriodStart, interval)
	if !newEnd.After(*sub.CurrentPeriodStart) {
		return changed, fmt.Errorf("recomputed period end %s not after start", newEnd.Format(time.RFC3339))
	}

	if !n.DryRun {
		affected, err := n.repo.UpdateSubscriptionIfStatus(sub.ID, sub.Status, map[string]interface{}{
			"status":             models.SubscriptionStatusActive,
			"current_period_end": newEnd,
		})
		if err != nil {
			return changed, err
		}
		if affected == 0 {
			report.Skipped++
			return true, nil
		}
	}
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodEnd = &newEnd
	report.PeriodRepaired++
	return true, nil
}
