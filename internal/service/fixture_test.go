package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/internal/scanner"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

// 10 января 2026, 15:00 UTC
var baseTime = time.Date(2026, 1, 10, 15, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(typ domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// fakeScanner возвращает заданное число нарушений; при failWith падает
type fakeScanner struct {
	mu       sync.Mutex
	issues   int
	failWith error
	calls    int
}

func (f *fakeScanner) Scan(ctx context.Context, url string) (domain.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return domain.ScanResult{}, f.failWith
	}
	res := domain.ScanResult{URL: url, Passes: 12, Timestamp: baseTime}
	for i := 0; i < f.issues; i++ {
		impact := domain.ImpactSerious
		if i == 0 {
			impact = domain.ImpactCritical
		}
		res.Violations = append(res.Violations, domain.Violation{
			ID:     "rule-" + string(rune('a'+i)),
			Impact: impact,
			Help:   "Fix it",
			Nodes:  []domain.ViolationNode{{Target: []string{"#el"}, HTML: "<div id=\"el\"></div>"}},
		})
	}
	return res, nil
}

func (f *fakeScanner) set(issues int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues, f.failWith = issues, err
}

var _ scanner.Scanner = (*fakeScanner)(nil)

type fakeBilling struct {
	subs  map[string][]domain.BillingSubscription
	err   error
	calls int
}

func (f *fakeBilling) ListSubscriptions(ctx context.Context, customerID string) ([]domain.BillingSubscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.subs[customerID], nil
}

var errProviderDown = errors.New("stripe: connection refused")

const (
	priceProMonthly = "price_pro"
	priceBusiness   = "price_business"
)

type fixture struct {
	store     *repository.MemoryStore
	clock     *FixedClock
	pub       *recordingPublisher
	scanner   *fakeScanner
	billing   *fakeBilling
	usage     *UsageCounters
	evaluator *Evaluator
	trials    *TrialService
	scans     *ScanService
	keys      *APIKeyService
	schedules *ScheduleService
	plans     *PlanService
	reconcile *BillingReconciler
	sync      *BillingSync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	m := metrics.NewNopEntitlementMetrics()

	f := &fixture{
		store:   repository.NewMemoryStore(),
		clock:   &FixedClock{T: baseTime},
		pub:     &recordingPublisher{},
		scanner: &fakeScanner{issues: 7},
		billing: &fakeBilling{subs: map[string][]domain.BillingSubscription{}},
	}
	prices := domain.NewPriceTable(priceProMonthly, priceBusiness, "")

	users := f.store.Users()
	f.usage = NewUsageCounters(f.store.Scans(), time.UTC, true)
	f.evaluator = NewEvaluator(users, f.store.APIKeys(), f.store.Schedules(), f.usage, m, log)
	f.trials = NewTrialService(users, f.store.Audit(), f.pub, m, f.clock, 7*24*time.Hour, log)
	f.scans = NewScanService(f.evaluator, f.store.Scans(), f.scanner, f.pub, m, f.clock, log)
	f.keys = NewAPIKeyService(f.evaluator, f.store.APIKeys(), f.store.Audit(), f.clock, log)
	f.schedules = NewScheduleService(f.evaluator, users, f.store.Schedules(), f.scans, f.pub, time.UTC, f.clock, 2, log)
	f.plans = NewPlanService(users, f.usage, f.clock)
	f.reconcile = NewBillingReconciler(users, f.store.Audit(), f.billing, prices, m, f.clock, log)
	f.sync = NewBillingSync(users, f.store.Audit(), f.pub, prices, m, f.clock, log)
	return f
}

func (f *fixture) user(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := f.store.Users().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
