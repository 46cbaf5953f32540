package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
)

func TestRunScanRejectsBadURLBeforeQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "u1", Subscription: domain.PlanFree})

	for _, raw := range []string{"", "ftp://example.com", "http://localhost:8080", "http://10.0.0.1/"} {
		if _, err := f.scans.RunScan(ctx, domain.Identity{UserID: "u1"}, raw); !errors.Is(err, domain.ErrInvalidURL) {
			t.Fatalf("%q: expected ErrInvalidURL, got %v", raw, err)
		}
	}
	if n, _ := f.usage.LifetimeScans(ctx, "u1"); n != 0 {
		t.Fatalf("invalid url must not consume quota, got %d", n)
	}
}

func TestRunScanFailureMarksScanFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "p1", Subscription: domain.PlanPro})
	f.scanner.set(0, domain.NewScanError("https://example.com/", "navigation timeout", context.DeadlineExceeded))

	_, err := f.scans.RunScan(ctx, domain.Identity{UserID: "p1"}, "https://example.com")
	if !errors.Is(err, domain.ErrScanFailed) {
		t.Fatalf("expected ErrScanFailed, got %v", err)
	}

	scans, _ := f.scans.ListScans(ctx, "p1", 10)
	if len(scans) != 1 || scans[0].Status != domain.ScanStatusFailed || scans[0].Error == nil {
		t.Fatalf("expected one failed scan with reason, got %+v", scans)
	}
	// упавший скан расходует квоту при count_failed_scans=true
	if n, _ := f.usage.DailyScans(ctx, "p1", f.clock.Now()); n != 1 {
		t.Fatalf("expected failed scan to count, got %d", n)
	}
}

func TestFullScanStoredAndReadableByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "p1", Subscription: domain.PlanPro})

	out, err := f.scans.RunScan(ctx, domain.Identity{UserID: "p1"}, "https://Example.com/a#top")
	if err != nil {
		t.Fatalf("run scan: %v", err)
	}
	if out.URL != "https://example.com/a" {
		t.Fatalf("unexpected normalized url %q", out.URL)
	}
	if out.Risk.Level != domain.RiskHigh || out.Summary.SeverityCounts.Critical != 1 {
		t.Fatalf("unexpected risk %+v / summary %+v", out.Risk, out.Summary)
	}

	stored, err := f.scans.GetScan(ctx, "p1", out.ScanID)
	if err != nil {
		t.Fatalf("get scan: %v", err)
	}
	if stored.Result == nil || len(stored.Result.Violations) != 7 {
		t.Fatalf("full result must be persisted, got %+v", stored.Result)
	}
	if _, err := f.scans.GetScan(ctx, "someone-else", out.ScanID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other user, got %v", err)
	}
	if len(f.pub.ofType(domain.EventScanCompleted)) != 1 {
		t.Fatal("expected scan.completed event")
	}
}

func TestAnonymousScanIsNotOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.scans.RunScan(ctx, domain.Identity{}, "example.com")
	if err != nil {
		t.Fatalf("run scan: %v", err)
	}
	if !out.Decision.SetMarker || out.Teaser == nil {
		t.Fatalf("anonymous scan must set marker and return teaser, got %+v", out)
	}
	if _, err := f.scans.GetScan(ctx, "u1", out.ScanID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("anonymous scan must not be readable, got %v", err)
	}
	if len(f.pub.ofType(domain.EventScanCompleted)) != 0 {
		t.Fatal("anonymous scans must not publish events")
	}
}

func TestRunAPIScanConsumesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "b1", Subscription: domain.PlanBusiness})
	created, _, err := f.keys.Create(ctx, "b1", "ci", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	out, err := f.scans.RunAPIScan(ctx, created.Secret, "example.com")
	if err != nil {
		t.Fatalf("api scan: %v", err)
	}
	if !out.Decision.Allowed || out.Result == nil || out.Decision.Remaining != 9999 {
		t.Fatalf("unexpected api outcome %+v", out.Decision)
	}
	if u := f.user(t, "b1"); u.APIRequestsUsed != 1 {
		t.Fatalf("expected one api request used, got %d", u.APIRequestsUsed)
	}

	// невалидный адрес не списывает запрос
	if _, err := f.scans.RunAPIScan(ctx, created.Secret, "localhost"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if u := f.user(t, "b1"); u.APIRequestsUsed != 1 {
		t.Fatalf("invalid url consumed quota: %d", u.APIRequestsUsed)
	}
}

func TestPlanOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycle := baseTime.Add(-time.Hour)
	f.store.PutUser(domain.User{ID: "p1", Subscription: domain.PlanPro, APIRequestsUsed: 12, BillingCycleStart: &cycle})
	if _, err := f.scans.RunScan(ctx, domain.Identity{UserID: "p1"}, "example.com"); err != nil {
		t.Fatalf("run scan: %v", err)
	}

	o, err := f.plans.Overview(ctx, "p1")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if o.Plan != domain.PlanPro || o.ScansToday != 1 || o.DailyScanLimit != 10 || o.APIRequestsUsed != 12 {
		t.Fatalf("unexpected overview %+v", o)
	}
	if o.APICycleResetAt == nil || !o.APICycleResetAt.Equal(CycleEnd(cycle)) {
		t.Fatalf("unexpected cycle reset %v", o.APICycleResetAt)
	}
	if o.TrialAvailable {
		t.Fatal("paid user must not see trial offer")
	}
}
