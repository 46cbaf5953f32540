package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

func TestAnonymousVisitorGetsOneTeaser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.evaluator.EvaluateScanRequest(ctx, domain.Identity{}, baseTime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed || !d.SetMarker || d.Shape != domain.ShapeTeaser {
		t.Fatalf("first anonymous scan must be allowed as teaser with marker, got %+v", d)
	}

	d, err = f.evaluator.EvaluateScanRequest(ctx, domain.Identity{HasMarker: true}, baseTime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed || d.Reason != domain.ReasonNeedsAuth {
		t.Fatalf("second anonymous scan must require auth, got %+v", d)
	}
}

func TestFreeUserOneLifetimeTeaser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "u1", Subscription: domain.PlanFree})

	out, err := f.scans.RunScan(ctx, domain.Identity{UserID: "u1"}, "example.com")
	if err != nil {
		t.Fatalf("run scan: %v", err)
	}
	if !out.Decision.Allowed || out.Teaser == nil || out.Result != nil {
		t.Fatalf("free user must get a teaser, got %+v", out)
	}
	if len(out.Teaser.Issues) != domain.TeaserIssueLimit || out.Teaser.Hidden != 2 {
		t.Fatalf("expected 5 shown and 2 hidden issues, got %d/%d", len(out.Teaser.Issues), out.Teaser.Hidden)
	}

	stored, err := f.store.Scans().GetByID(ctx, out.ScanID)
	if err != nil {
		t.Fatalf("get scan: %v", err)
	}
	if stored.Results != domain.RedactedResults || stored.IssueCount != 7 {
		t.Fatalf("teaser scan must be stored redacted with issue count, got %q/%d", stored.Results, stored.IssueCount)
	}

	// день не важен: лимит free пожизненный
	f.clock.Advance(48 * time.Hour)
	out, err = f.scans.RunScan(ctx, domain.Identity{UserID: "u1"}, "example.com")
	if err != nil {
		t.Fatalf("run scan: %v", err)
	}
	if out.Decision.Allowed || out.Decision.Reason != domain.ReasonNeedsUpgrade {
		t.Fatalf("second free scan must need upgrade, got %+v", out.Decision)
	}
	if f.scanner.calls != 1 {
		t.Fatalf("denied scan must not reach the scanner, calls=%d", f.scanner.calls)
	}
}

func TestProDailyLimitResetsAtMidnight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "p1", Subscription: domain.PlanPro})
	id := domain.Identity{UserID: "p1"}

	for i := 0; i < 10; i++ {
		out, err := f.scans.RunScan(ctx, id, "https://example.com/page")
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		if !out.Decision.Allowed || out.Result == nil {
			t.Fatalf("scan %d must be allowed with full results, got %+v", i, out.Decision)
		}
		f.clock.Advance(time.Minute)
	}

	out, err := f.scans.RunScan(ctx, id, "https://example.com/page")
	if err != nil {
		t.Fatalf("scan 11: %v", err)
	}
	d := out.Decision
	if d.Allowed || d.Reason != domain.ReasonDailyLimitReached || d.Used != 10 || d.Limit != 10 {
		t.Fatalf("11th scan must hit daily limit, got %+v", d)
	}
	wantReset := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)
	if d.ResetAt == nil || !d.ResetAt.Equal(wantReset) {
		t.Fatalf("expected reset at %v, got %v", wantReset, d.ResetAt)
	}

	f.clock.T = wantReset.Add(time.Second)
	out, err = f.scans.RunScan(ctx, id, "https://example.com/page")
	if err != nil {
		t.Fatalf("scan after midnight: %v", err)
	}
	if !out.Decision.Allowed {
		t.Fatalf("limit must reset after midnight, got %+v", out.Decision)
	}
}

func TestDailyLimitUsesConfiguredTimezone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	f := newFixture(t)
	usage := NewUsageCounters(f.store.Scans(), loc, true)

	// 03:00 UTC 11 января это еще 22:00 10 января по UTC-5
	now := time.Date(2026, 1, 11, 3, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 11, 0, 0, 0, 0, loc)
	if got := usage.NextMidnight(now); !got.Equal(want) {
		t.Fatalf("expected next midnight %v, got %v", want, got)
	}
}

func TestExpiredTrialIsTreatedAsFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ended := baseTime.Add(-time.Hour)
	f.store.PutUser(domain.User{ID: "t1", Subscription: domain.PlanTrial, TrialStarted: timePtr(ended.Add(-7 * 24 * time.Hour)), TrialEnds: &ended})

	d, err := f.evaluator.EvaluateScanRequest(ctx, domain.Identity{UserID: "t1"}, baseTime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Plan != domain.PlanFree || d.Shape != domain.ShapeTeaser {
		t.Fatalf("trial past its end must act as free before cron runs, got %+v", d)
	}
}

func TestAPIKeyCreationLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "free", Subscription: domain.PlanFree})
	f.store.PutUser(domain.User{ID: "trial", Subscription: domain.PlanTrial, TrialEnds: timePtr(baseTime.Add(time.Hour))})
	f.store.PutUser(domain.User{ID: "pro", Subscription: domain.PlanPro})
	f.store.PutUser(domain.User{ID: "ent", Subscription: domain.PlanEnterprise})

	for _, id := range []string{"free", "trial"} {
		_, d, err := f.keys.Create(ctx, id, "ci", nil)
		if err != nil {
			t.Fatalf("create for %s: %v", id, err)
		}
		if d.Allowed || d.Reason != domain.ReasonPlanRequired {
			t.Fatalf("%s must not create keys, got %+v", id, d)
		}
	}

	created, d, err := f.keys.Create(ctx, "pro", "ci", nil)
	if err != nil || !d.Allowed {
		t.Fatalf("pro first key: %+v %v", d, err)
	}
	if created.Secret == "" || created.Key.KeyHash != domain.HashAPIKey(created.Secret) {
		t.Fatal("secret must be returned once and stored hashed")
	}
	_, d, _ = f.keys.Create(ctx, "pro", "second", nil)
	if d.Allowed || d.Reason != domain.ReasonKeyLimitReached || d.CurrentCount != 1 {
		t.Fatalf("pro second key must hit limit, got %+v", d)
	}

	if err := f.keys.Revoke(ctx, "pro", created.Key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, d, _ = f.keys.Create(ctx, "pro", "again", nil); !d.Allowed {
		t.Fatalf("revoked key must free a slot, got %+v", d)
	}

	for i := 0; i < domain.MaxActiveAPIKeys; i++ {
		if _, d, _ := f.keys.Create(ctx, "ent", "k", nil); !d.Allowed {
			t.Fatalf("enterprise key %d must be allowed, got %+v", i, d)
		}
	}
	if _, d, _ := f.keys.Create(ctx, "ent", "k", nil); d.Allowed || d.Reason != domain.ReasonKeyLimitReached {
		t.Fatalf("hard cap applies to unlimited plans too, got %+v", d)
	}
}

func TestRevokeChecksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "a", Subscription: domain.PlanPro})
	created, _, err := f.keys.Create(ctx, "a", "ci", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.keys.Revoke(ctx, "b", created.Key.ID); err != domain.ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.keys.Revoke(ctx, "a", created.Key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.keys.Revoke(ctx, "a", created.Key.ID); err != nil {
		t.Fatalf("second revoke must be a no-op, got %v", err)
	}
}

func TestAPIRequestQuotaAndCycleRollover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycle := baseTime.Add(-24 * time.Hour)
	f.store.PutUser(domain.User{ID: "p1", Subscription: domain.PlanPro, APIRequestsUsed: 999, BillingCycleStart: &cycle})
	created, _, err := f.keys.Create(ctx, "p1", "ci", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	d, err := f.evaluator.EvaluateAPIRequest(ctx, created.Secret, baseTime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed || d.Remaining != 0 || d.ResetEpoch != CycleEnd(cycle).Unix() {
		t.Fatalf("last request of the cycle must pass, got %+v", d)
	}

	d, _ = f.evaluator.EvaluateAPIRequest(ctx, created.Secret, baseTime)
	if d.Allowed || d.Reason != domain.ReasonQuotaExceeded {
		t.Fatalf("request over quota must be denied, got %+v", d)
	}

	later := CycleEnd(cycle).Add(time.Minute)
	d, _ = f.evaluator.EvaluateAPIRequest(ctx, created.Secret, later)
	if !d.Allowed || d.Remaining != 999 {
		t.Fatalf("new cycle must reset usage, got %+v", d)
	}
	if u := f.user(t, "p1"); u.BillingCycleStart == nil || !u.BillingCycleStart.Equal(later) {
		t.Fatalf("cycle start must move to the rollover moment, got %v", u.BillingCycleStart)
	}
}

// concurrentRollover перед сбросом успевает начать цикл и списать запрос за другой экземпляр
type concurrentRollover struct {
	repository.UserRepository
	winner time.Time
}

func (c concurrentRollover) ResetAPIUsage(ctx context.Context, id string, previous *time.Time, cycleStart time.Time) (bool, error) {
	if ok, err := c.UserRepository.ResetAPIUsage(ctx, id, previous, c.winner); err != nil || !ok {
		return ok, err
	}
	if _, _, err := c.UserRepository.IncrementAPIUsage(ctx, id, domain.Unlimited); err != nil {
		return false, err
	}
	return c.UserRepository.ResetAPIUsage(ctx, id, previous, cycleStart)
}

func TestAPIRequestRolloverLostToConcurrentRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycle := baseTime.AddDate(0, -2, 0)
	f.store.PutUser(domain.User{ID: "p1", Subscription: domain.PlanPro, APIRequestsUsed: 1000, BillingCycleStart: &cycle})
	created, _, err := f.keys.Create(ctx, "p1", "ci", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	winner := baseTime.Add(-time.Second)
	users := concurrentRollover{UserRepository: f.store.Users(), winner: winner}
	e := NewEvaluator(users, f.store.APIKeys(), f.store.Schedules(), f.usage, metrics.NewNopEntitlementMetrics(), logger.NewNop())

	d, err := e.EvaluateAPIRequest(ctx, created.Secret, baseTime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed || d.Remaining != 998 || d.ResetEpoch != CycleEnd(winner).Unix() {
		t.Fatalf("expected second request of the winner's cycle, got %+v", d)
	}
	u := f.user(t, "p1")
	if u.APIRequestsUsed != 2 || u.BillingCycleStart == nil || !u.BillingCycleStart.Equal(winner) {
		t.Fatalf("concurrent rollover must not wipe usage, got used=%d start=%v", u.APIRequestsUsed, u.BillingCycleStart)
	}
}

func TestAPIRequestWithUnusableKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "p1", Subscription: domain.PlanPro})

	d, _ := f.evaluator.EvaluateAPIRequest(ctx, "a11y_unknown", baseTime)
	if d.Allowed || d.Reason != domain.ReasonInvalidKey {
		t.Fatalf("unknown key must be invalid, got %+v", d)
	}

	created, _, _ := f.keys.Create(ctx, "p1", "short", timePtr(baseTime.Add(time.Hour)))
	d, _ = f.evaluator.EvaluateAPIRequest(ctx, created.Secret, baseTime.Add(2*time.Hour))
	if d.Allowed || d.Reason != domain.ReasonInvalidKey {
		t.Fatalf("expired key must be invalid, got %+v", d)
	}

	// тариф понизился после выдачи ключа
	_ = f.store.Users().UpdateSubscription(ctx, "p1", domain.SubscriptionUpdate{Plan: domain.PlanFree})
	created2, _, _ := f.keys.Create(ctx, "p1", "again", nil)
	if created2 != nil {
		t.Fatal("free user must not receive a key")
	}
	d, _ = f.evaluator.EvaluateAPIRequest(ctx, created.Secret, baseTime)
	if d.Allowed || d.Reason != domain.ReasonPlanRequired {
		t.Fatalf("downgraded user must need a plan, got %+v", d)
	}
}

func TestTrialGetsExportButNoSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "t1", Subscription: domain.PlanTrial, TrialEnds: timePtr(baseTime.Add(time.Hour))})
	f.store.PutUser(domain.User{ID: "free", Subscription: domain.PlanFree})

	if d, _ := f.evaluator.EvaluateExport(ctx, "t1", baseTime); !d.Allowed {
		t.Fatalf("trial must allow export, got %+v", d)
	}
	if d, _ := f.evaluator.EvaluateExport(ctx, "free", baseTime); d.Allowed || d.Reason != domain.ReasonNeedsUpgrade {
		t.Fatalf("free export must need upgrade, got %+v", d)
	}
	if d, _ := f.evaluator.EvaluateScheduleCreation(ctx, "t1", baseTime); d.Allowed || d.Reason != domain.ReasonPlanRequired {
		t.Fatalf("trial must not schedule scans, got %+v", d)
	}
}
