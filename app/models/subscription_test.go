package models

import (
	"testing"
	"time"
)

func TestCanonicalStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"active", "active"},
		{"Active", "active"},
		{"ACTIVE", "active"},
		{" PAST_DUE ", "past_due"},
		{"Canceled", "canceled"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalStatus(tt.in); got != tt.want {
			t.Fatalf("CanonicalStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeBillingInterval(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"month", BillingIntervalMonth},
		{"monthly", BillingIntervalMonth},
		{"Monthly", BillingIntervalMonth},
		{"year", BillingIntervalYear},
		{"yearly", BillingIntervalYear},
		{"annual", BillingIntervalYear},
		{"annually", BillingIntervalYear},
		{"week", BillingIntervalUnknown},
		{"", BillingIntervalUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeBillingInterval(tt.in); got != tt.want {
			t.Fatalf("NormalizeBillingInterval(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubscriptionIsCanceled(t *testing.T) {
	sub := Subscription{Status: "CANCELED"}
	if !sub.IsCanceled() {
		t.Fatal("non-canonical casing must still read as canceled")
	}
	sub.Status = SubscriptionStatusActive
	if sub.IsCanceled() {
		t.Fatal("active must not read as canceled")
	}
}

func TestSubscriptionPeriodEndsAfter(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	var sub Subscription
	if sub.PeriodEndsAfter(now) {
		t.Fatal("nil period end must not grant access")
	}

	end := now.Add(-time.Minute)
	sub.CurrentPeriodEnd = &end
	if sub.PeriodEndsAfter(now) {
		t.Fatal("elapsed period must not grant access")
	}

	end = now
	if sub.PeriodEndsAfter(now) {
		t.Fatal("period ending exactly now must not grant access")
	}

	end = now.Add(time.Minute)
	if !sub.PeriodEndsAfter(now) {
		t.Fatal("future period end must grant access")
	}
}
