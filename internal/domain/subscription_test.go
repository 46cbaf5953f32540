package domain

import (
	"errors"
	"testing"
	"time"
)

var testPrices = NewPriceTable("price_pro", "price_business", "price_enterprise")

func TestResolvePlanCanceledGraceBoundary(t *testing.T) {
	periodEnd := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := []BillingSubscription{{
		ID:               "sub_1",
		PriceID:          "price_business",
		Status:           SubscriptionStatusCanceled,
		CurrentPeriodEnd: periodEnd,
	}}

	before, err := ResolvePlan(subs, testPrices, periodEnd.Add(-time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before.Plan != PlanBusiness || !before.Found {
		t.Fatalf("expected business within grace period, got %+v", before)
	}
	if before.GraceUntil == nil || !before.GraceUntil.Equal(periodEnd) {
		t.Fatalf("expected grace until %v, got %v", periodEnd, before.GraceUntil)
	}

	after, err := ResolvePlan(subs, testPrices, periodEnd.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Plan != PlanFree || after.Found {
		t.Fatalf("expected free after period end, got %+v", after)
	}
}

func TestResolvePlanStatuses(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trialEnd := now.Add(72 * time.Hour)

	tests := []struct {
		name string
		sub  BillingSubscription
		want Plan
	}{
		{"active", BillingSubscription{PriceID: "price_pro", Status: SubscriptionStatusActive}, PlanPro},
		{"past due keeps plan", BillingSubscription{PriceID: "price_business", Status: SubscriptionStatusPastDue}, PlanBusiness},
		{"trialing", BillingSubscription{PriceID: "price_pro", Status: SubscriptionStatusTrialing, TrialEnd: &trialEnd}, PlanTrial},
		{"unpaid", BillingSubscription{PriceID: "price_pro", Status: SubscriptionStatusUnpaid}, PlanFree},
		{"incomplete", BillingSubscription{PriceID: "price_pro", Status: SubscriptionStatusIncomplete}, PlanFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePlan([]BillingSubscription{tt.sub}, testPrices, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Plan != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.Plan)
			}
		})
	}
}

func TestResolvePlanPicksHighestTier(t *testing.T) {
	now := time.Now()
	subs := []BillingSubscription{
		{ID: "a", PriceID: "price_pro", Status: SubscriptionStatusActive},
		{ID: "b", PriceID: "price_enterprise", Status: SubscriptionStatusActive},
		{ID: "c", PriceID: "price_business", Status: SubscriptionStatusCanceled, CurrentPeriodEnd: now.Add(-time.Hour)},
	}
	got, err := ResolvePlan(subs, testPrices, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Plan != PlanEnterprise || got.SubscriptionID != "b" {
		t.Fatalf("expected enterprise from sub b, got %+v", got)
	}
}

func TestResolvePlanUnknownPrice(t *testing.T) {
	subs := []BillingSubscription{{ID: "x", PriceID: "price_legacy", Status: SubscriptionStatusActive}}
	_, err := ResolvePlan(subs, testPrices, time.Now())
	if !errors.Is(err, ErrUnknownPrice) {
		t.Fatalf("expected ErrUnknownPrice, got %v", err)
	}
}

func TestResolvePlanNoSubscriptions(t *testing.T) {
	got, err := ResolvePlan(nil, testPrices, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Found || got.Plan != PlanFree {
		t.Fatalf("expected free/not found, got %+v", got)
	}
}
