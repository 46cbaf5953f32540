package domain

import (
	"fmt"
	"strings"
	"time"
)

// Frequency периодичность запланированного скана
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ScheduledRunHour час запуска по канонической таймзоне
const ScheduledRunHour = 9

// ScheduledScan периодический скан платного пользователя
type ScheduledScan struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	URL              string     `db:"url" json:"url"`
	Frequency        Frequency  `db:"frequency" json:"frequency"`
	Enabled          bool       `db:"enabled" json:"enabled"`
	AlertOnNewIssues bool       `db:"alert_on_new_issues" json:"alertOnNewIssues"`
	NextRun          time.Time  `db:"next_run" json:"nextRun"`
	LastRun          *time.Time `db:"last_run" json:"lastRun,omitempty"`
	LastIssueCount   *int       `db:"last_issue_count" json:"lastIssueCount,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// ParseFrequency разбирает периодичность
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidInput, s)
}

// NextRun дата следующего запуска: через 1/7 дней или месяц от now, в 09:00 по loc.
func NextRun(freq Frequency, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()

	switch freq {
	case FrequencyWeekly:
		d += 7
	case FrequencyMonthly:
		m++
		// 31 января → 28/29 февраля, а не 3 марта
		if last := time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day(); d > last {
			d = last
		}
	default:
		d++
	}
	return time.Date(y, m, d, ScheduledRunHour, 0, 0, 0, loc)
}
