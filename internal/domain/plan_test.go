package domain

import (
	"testing"
	"time"
)

func TestPlanLimits(t *testing.T) {
	if PlanPro.Limits().DailyScans != 10 || PlanBusiness.Limits().DailyScans != 100 {
		t.Fatalf("unexpected daily limits")
	}
	if PlanTrial.Limits().DailyScans != PlanPro.Limits().DailyScans {
		t.Fatalf("trial should share pro daily quota")
	}
	if PlanEnterprise.Limits().DailyScans != Unlimited || PlanEnterprise.Limits().APIKeys != Unlimited {
		t.Fatalf("enterprise should be unlimited")
	}
	if PlanFree.Limits().APIKeys != 0 || PlanTrial.Limits().APIKeys != 0 {
		t.Fatalf("free and trial must not get api keys")
	}
	if Plan("gold").Limits() != PlanFree.Limits() {
		t.Fatalf("unknown plan must fall back to free")
	}
}

func TestParsePlan(t *testing.T) {
	if p, err := ParsePlan("Business"); err != nil || p != PlanBusiness {
		t.Fatalf("expected business, got %q (%v)", p, err)
	}
	if _, err := ParsePlan("gold"); err == nil {
		t.Fatalf("expected error for unknown plan")
	}
}

func TestEffectivePlanExpiredTrial(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	ends := now.Add(-time.Minute)
	started := ends.Add(-7 * 24 * time.Hour)
	u := User{Subscription: PlanTrial, TrialStarted: &started, TrialEnds: &ends}

	if got := u.EffectivePlan(now); got != PlanFree {
		t.Fatalf("expected expired trial to be free, got %s", got)
	}

	future := now.Add(time.Hour)
	u.TrialEnds = &future
	if got := u.EffectivePlan(now); got != PlanTrial {
		t.Fatalf("expected active trial, got %s", got)
	}
}

func TestEffectivePlanCanceledSubscription(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	until := now.Add(72 * time.Hour)
	u := User{Subscription: PlanPro, PaidUntil: &until}

	if got := u.EffectivePlan(now); got != PlanPro {
		t.Fatalf("expected pro inside paid period, got %s", got)
	}
	if got := u.EffectivePlan(until); got != PlanFree {
		t.Fatalf("expected free at period end, got %s", got)
	}
	if got := u.EffectivePlan(now.AddDate(0, 0, 30)); got != PlanFree {
		t.Fatalf("expected free after period end, got %s", got)
	}

	u.PaidUntil = nil
	if got := u.EffectivePlan(now.AddDate(1, 0, 0)); got != PlanPro {
		t.Fatalf("active subscription has no end, got %s", got)
	}
}

func TestTrialAvailable(t *testing.T) {
	u := User{Subscription: PlanFree}
	if !u.TrialAvailable() {
		t.Fatalf("fresh free user should be able to start a trial")
	}
	started := time.Now()
	u.TrialStarted = &started
	if u.TrialAvailable() {
		t.Fatalf("trial must not be available once started")
	}
	u = User{Subscription: PlanFree, HadTrial: true}
	if u.TrialAvailable() {
		t.Fatalf("trial must not be available after hadTrial")
	}
}

func TestWithinLimit(t *testing.T) {
	if !WithinLimit(1_000_000, Unlimited) {
		t.Fatalf("unlimited must always allow")
	}
	if WithinLimit(10, 10) {
		t.Fatalf("used == limit must deny")
	}
}
