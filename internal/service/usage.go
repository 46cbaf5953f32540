package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/repository"
)

// UsageCounters считает использование сканов. Границы суток всегда по одной таймзоне.
type UsageCounters struct {
	scans       repository.ScanRepository
	loc         *time.Location
	countFailed bool
}

// NewUsageCounters создает счетчики. countFailed=true: упавший скан тоже расходует квоту.
func NewUsageCounters(scans repository.ScanRepository, loc *time.Location, countFailed bool) *UsageCounters {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageCounters{scans: scans, loc: loc, countFailed: countFailed}
}

// Location каноническая таймзона
func (u *UsageCounters) Location() *time.Location {
	return u.loc
}

// StartOfDay локальная полночь для now
func (u *UsageCounters) StartOfDay(now time.Time) time.Time {
	y, m, d := now.In(u.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, u.loc)
}

// NextMidnight момент сброса дневного лимита
func (u *UsageCounters) NextMidnight(now time.Time) time.Time {
	y, m, d := now.In(u.loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, u.loc)
}

// DailyScans сканы пользователя с локальной полуночи
func (u *UsageCounters) DailyScans(ctx context.Context, userID string, now time.Time) (int, error) {
	n, err := u.scans.CountByUserSince(ctx, userID, u.StartOfDay(now), u.countFailed)
	if err != nil {
		return 0, fmt.Errorf("count daily scans: %w", err)
	}
	return n, nil
}

// LifetimeScans все сканы пользователя
func (u *UsageCounters) LifetimeScans(ctx context.Context, userID string) (int, error) {
	n, err := u.scans.CountByUser(ctx, userID, u.countFailed)
	if err != nil {
		return 0, fmt.Errorf("count lifetime scans: %w", err)
	}
	return n, nil
}

// CycleEnd конец месячного цикла API
func CycleEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}
