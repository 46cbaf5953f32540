package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
)

func TestStartTrialOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users := store.Users()

	if _, err := users.Ensure(ctx, "u1", "u1@example.com"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ends := now.Add(7 * 24 * time.Hour)

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := users.StartTrial(ctx, "u1", now, ends)
			if err != nil {
				t.Errorf("start trial: %v", err)
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	started := 0
	for _, ok := range results {
		if ok {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("expected exactly one trial start, got %d", started)
	}

	entries := store.AuditEntries()
	if len(entries) != 1 || entries[0].Action != domain.AuditTrialStarted {
		t.Fatalf("expected single trial_started audit entry, got %+v", entries)
	}
}

func TestExpireTrialsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users := store.Users()

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	store.PutUser(domain.User{ID: "expired", Subscription: domain.PlanTrial, TrialStarted: &past, TrialEnds: &past})
	store.PutUser(domain.User{ID: "active", Subscription: domain.PlanTrial, TrialStarted: &past, TrialEnds: &future})

	ids, err := users.ExpireTrials(ctx, now)
	if err != nil {
		t.Fatalf("expire trials: %v", err)
	}
	if len(ids) != 1 || ids[0] != "expired" {
		t.Fatalf("expected [expired], got %v", ids)
	}

	again, err := users.ExpireTrials(ctx, now)
	if err != nil {
		t.Fatalf("expire trials again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second run should be a no-op, got %v", again)
	}

	u, _ := users.GetByID(ctx, "expired")
	if u.Subscription != domain.PlanFree || !u.HadTrial {
		t.Fatalf("expected free with hadTrial, got %+v", u)
	}
	if ok, _ := users.StartTrial(ctx, "expired", now, now.Add(time.Hour)); ok {
		t.Fatal("trial must not restart after expiry")
	}
}

func TestIncrementAPIUsageRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users := store.Users()
	store.PutUser(domain.User{ID: "u1", Subscription: domain.PlanPro})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := users.IncrementAPIUsage(ctx, "u1", 5)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Fatalf("expected 5 granted requests, got %d", granted)
	}
	u, _ := users.GetByID(ctx, "u1")
	if u.APIRequestsUsed != 5 {
		t.Fatalf("expected counter 5, got %d", u.APIRequestsUsed)
	}

	if _, ok, _ := users.IncrementAPIUsage(ctx, "u1", domain.Unlimited); !ok {
		t.Fatal("unlimited increment must always succeed")
	}
}

func TestResetAPIUsageOnlyFromExpectedCycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users := store.Users()

	old := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	store.PutUser(domain.User{ID: "u1", Subscription: domain.PlanPro, BillingCycleStart: &old, APIRequestsUsed: 900})
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	resets := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := users.ResetAPIUsage(ctx, "u1", &old, now.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				t.Errorf("reset: %v", err)
				return
			}
			if ok {
				mu.Lock()
				resets++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if resets != 1 {
		t.Fatalf("expected exactly one reset, got %d", resets)
	}

	if _, _, err := users.IncrementAPIUsage(ctx, "u1", 1000); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ok, _ := users.ResetAPIUsage(ctx, "u1", &old, now.Add(time.Second)); ok {
		t.Fatal("stale cycle must not reset the counter again")
	}
	u, _ := users.GetByID(ctx, "u1")
	if u.APIRequestsUsed != 1 {
		t.Fatalf("increment after rollover lost, counter %d", u.APIRequestsUsed)
	}
}

func TestEndPaidPeriodsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users := store.Users()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	sub := "sub_1"
	store.PutUser(domain.User{ID: "ended", Subscription: domain.PlanBusiness, StripeSubscriptionID: &sub, PaidUntil: &past})
	store.PutUser(domain.User{ID: "paying", Subscription: domain.PlanPro, PaidUntil: &future})
	store.PutUser(domain.User{ID: "active", Subscription: domain.PlanPro})

	ended, err := users.EndPaidPeriods(ctx, now)
	if err != nil {
		t.Fatalf("end paid periods: %v", err)
	}
	if len(ended) != 1 || ended[0].ID != "ended" || ended[0].Subscription != domain.PlanBusiness {
		t.Fatalf("expected [ended] from business, got %+v", ended)
	}
	u, _ := users.GetByID(ctx, "ended")
	if u.Subscription != domain.PlanFree || u.PaidUntil != nil || u.StripeSubscriptionID != nil {
		t.Fatalf("expected free without paid period, got %+v", u)
	}
	entries := store.AuditEntries()
	if len(entries) != 1 || entries[0].Action != domain.AuditPlanChanged || entries[0].UserID != "ended" {
		t.Fatalf("expected single plan_changed audit entry, got %+v", entries)
	}

	if again, _ := users.EndPaidPeriods(ctx, now); len(again) != 0 {
		t.Fatalf("second run should be a no-op, got %+v", again)
	}
}

func TestLinkStripeCustomerRejectsSecondOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	users := store.Users()
	store.PutUser(domain.User{ID: "a", Subscription: domain.PlanFree})
	store.PutUser(domain.User{ID: "b", Subscription: domain.PlanFree})

	if err := users.LinkStripeCustomer(ctx, "a", "cus_1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := users.LinkStripeCustomer(ctx, "a", "cus_1"); err != nil {
		t.Fatalf("relinking the same owner must succeed: %v", err)
	}
	if err := users.LinkStripeCustomer(ctx, "b", "cus_1"); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestScanLifecycleAndCounting(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scans := store.Scans()
	uid := "u1"
	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	for i, status := range []domain.ScanStatus{domain.ScanStatusPending, domain.ScanStatusPending, domain.ScanStatusPending} {
		err := scans.Create(ctx, &domain.Scan{
			ID:        string(rune('a' + i)),
			URL:       "https://example.com/",
			UserID:    &uid,
			Status:    status,
			CreatedAt: day.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := scans.Complete(ctx, "a", 3, domain.RedactedResults, day); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := scans.Fail(ctx, "b", "timeout", day); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := scans.Complete(ctx, "b", 1, "{}", day); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("finished scan must not transition again, got %v", err)
	}

	all, _ := scans.CountByUser(ctx, uid, true)
	if all != 3 {
		t.Fatalf("expected 3 scans including failed, got %d", all)
	}
	withoutFailed, _ := scans.CountByUser(ctx, uid, false)
	if withoutFailed != 2 {
		t.Fatalf("expected 2 scans without failed, got %d", withoutFailed)
	}
	since, _ := scans.CountByUserSince(ctx, uid, day.Add(90*time.Minute), true)
	if since != 1 {
		t.Fatalf("expected 1 scan since 01:30, got %d", since)
	}
}

func TestListDueSkipsDisabled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	schedules := store.Schedules()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	_ = schedules.Create(ctx, &domain.ScheduledScan{ID: "due", Enabled: true, NextRun: now.Add(-time.Minute)})
	_ = schedules.Create(ctx, &domain.ScheduledScan{ID: "off", Enabled: false, NextRun: now.Add(-time.Minute)})
	_ = schedules.Create(ctx, &domain.ScheduledScan{ID: "later", Enabled: true, NextRun: now.Add(time.Hour)})

	due, err := schedules.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("expected only the due schedule, got %+v", due)
	}

	if err := schedules.MarkRun(ctx, "due", now, now.Add(24*time.Hour), -1); err != nil {
		t.Fatalf("mark run: %v", err)
	}
	got, _ := schedules.GetByID(ctx, "due")
	if got.LastIssueCount != nil {
		t.Fatalf("negative issue count must leave last count untouched, got %v", *got.LastIssueCount)
	}
}
