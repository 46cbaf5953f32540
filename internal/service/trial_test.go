package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
)

func TestStartTrialOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "u1", Subscription: domain.PlanFree})

	u, err := f.trials.StartTrial(ctx, "u1")
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	wantEnd := baseTime.Add(7 * 24 * time.Hour)
	if u.Subscription != domain.PlanTrial || u.TrialEnds == nil || !u.TrialEnds.Equal(wantEnd) {
		t.Fatalf("unexpected user after trial start: %+v", u)
	}
	if len(f.pub.ofType(domain.EventTrialStarted)) != 1 {
		t.Fatal("expected trial.started event")
	}

	if _, err := f.trials.StartTrial(ctx, "u1"); !errors.Is(err, domain.ErrTrialUnavailable) {
		t.Fatalf("second start must be rejected, got %v", err)
	}
}

func TestStartTrialRejectsPaidAndUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "paid", Subscription: domain.PlanPro})
	f.store.PutUser(domain.User{ID: "used", Subscription: domain.PlanFree, HadTrial: true})

	for _, id := range []string{"paid", "used"} {
		if _, err := f.trials.StartTrial(ctx, id); !errors.Is(err, domain.ErrTrialUnavailable) {
			t.Fatalf("%s: expected ErrTrialUnavailable, got %v", id, err)
		}
	}
}

func TestEndExpiredTrials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "u1", Subscription: domain.PlanFree})
	if _, err := f.trials.StartTrial(ctx, "u1"); err != nil {
		t.Fatalf("start trial: %v", err)
	}

	if ids, _ := f.trials.EndExpiredTrials(ctx); len(ids) != 0 {
		t.Fatalf("active trial must not expire, got %v", ids)
	}

	f.clock.Advance(7*24*time.Hour + time.Second)
	ids, err := f.trials.EndExpiredTrials(ctx)
	if err != nil {
		t.Fatalf("end trials: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("expected u1 to expire, got %v", ids)
	}
	u := f.user(t, "u1")
	if u.Subscription != domain.PlanFree || !u.HadTrial {
		t.Fatalf("expected free with hadTrial, got %+v", u)
	}

	if ids, _ := f.trials.EndExpiredTrials(ctx); len(ids) != 0 {
		t.Fatalf("second run must be a no-op, got %v", ids)
	}
	if n := len(f.pub.ofType(domain.EventTrialExpired)); n != 1 {
		t.Fatalf("expected one trial.expired event, got %d", n)
	}
}

func TestTrialRemindersSentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "u1", Email: "u1@example.com", Subscription: domain.PlanFree})
	if _, err := f.trials.StartTrial(ctx, "u1"); err != nil {
		t.Fatalf("start trial: %v", err)
	}

	if n, _ := f.trials.SendTrialReminders(ctx); n != 0 {
		t.Fatalf("no reminder expected on day one, got %d", n)
	}

	f.clock.Advance(6*24*time.Hour + time.Hour)
	n, err := f.trials.SendTrialReminders(ctx)
	if err != nil {
		t.Fatalf("send reminders: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one reminder, got %d", n)
	}
	if n, _ := f.trials.SendTrialReminders(ctx); n != 0 {
		t.Fatalf("reminder must not repeat, got %d", n)
	}
	if got := len(f.pub.ofType(domain.EventTrialReminder)); got != 1 {
		t.Fatalf("expected 1 reminder event, got %d", got)
	}
}

func TestTrialReminderRetriedAfterPublishFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutUser(domain.User{ID: "u1", Subscription: domain.PlanFree})
	if _, err := f.trials.StartTrial(ctx, "u1"); err != nil {
		t.Fatalf("start trial: %v", err)
	}
	f.clock.Advance(6*24*time.Hour + time.Hour)

	f.pub.err = errors.New("broker unavailable")
	if n, err := f.trials.SendTrialReminders(ctx); err != nil || n != 0 {
		t.Fatalf("failed publish must not count, got %d %v", n, err)
	}

	f.pub.err = nil
	if n, _ := f.trials.SendTrialReminders(ctx); n != 1 {
		t.Fatalf("reminder must be retried on next run, got %d", n)
	}
}
