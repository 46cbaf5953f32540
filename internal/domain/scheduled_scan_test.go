package domain

import (
	"testing"
	"time"
)

func TestNextRunWeeklyIsSevenDaysAtNine(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	now := time.Date(2026, 5, 12, 22, 15, 0, 0, loc)

	got := NextRun(FrequencyWeekly, now, loc)
	want := time.Date(2026, 5, 19, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRunUsesReferenceTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 20:00 UTC on May 12 is already May 13 in UTC+10
	now := time.Date(2026, 5, 12, 20, 0, 0, 0, time.UTC)

	got := NextRun(FrequencyDaily, now, loc)
	want := time.Date(2026, 5, 14, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRunMonthlyClampsToMonthEnd(t *testing.T) {
	now := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
	got := NextRun(FrequencyMonthly, now, time.UTC)
	want := time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	dec := time.Date(2026, 12, 15, 8, 0, 0, 0, time.UTC)
	if got := NextRun(FrequencyMonthly, dec, time.UTC); !got.Equal(time.Date(2027, 1, 15, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected december rollover: %v", got)
	}
}

func TestNextRunFrequencyChangeRecomputes(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	weekly := NextRun(FrequencyWeekly, now, time.UTC)
	daily := NextRun(FrequencyDaily, now, time.UTC)
	if weekly.Sub(daily) != 6*24*time.Hour {
		t.Fatalf("expected weekly six days after daily, got %v", weekly.Sub(daily))
	}
}

func TestParseFrequency(t *testing.T) {
	if f, err := ParseFrequency(" Weekly "); err != nil || f != FrequencyWeekly {
		t.Fatalf("expected weekly, got %q (%v)", f, err)
	}
	if _, err := ParseFrequency("hourly"); err == nil {
		t.Fatalf("expected error for hourly")
	}
}
