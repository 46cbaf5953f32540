package domain

import (
	"fmt"
	"strings"
)

// Plan тариф пользователя
type Plan string

const (
	PlanFree       Plan = "free"
	PlanTrial      Plan = "trial"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

// Unlimited значение лимита без ограничения
const Unlimited = -1

// AnonymousScanLimit сколько сканов доступно анонимному посетителю
const AnonymousScanLimit = 1

// PlanLimits лимиты и возможности тарифа
type PlanLimits struct {
	LifetimeScans       int // только для free; Unlimited для остальных
	DailyScans          int
	APIKeys             int
	APIRequestsPerMonth int
	ScheduledScans      int
	FullResults         bool
	Export              bool
}

// Лимиты зашиты в код по тарифам, trial = pro по сканам но без API и расписаний.
var planLimits = map[Plan]PlanLimits{
	PlanFree: {
		LifetimeScans: 1,
		DailyScans:    0,
	},
	PlanTrial: {
		LifetimeScans: Unlimited,
		DailyScans:    10,
		FullResults:   true,
		Export:        true,
	},
	PlanPro: {
		LifetimeScans:       Unlimited,
		DailyScans:          10,
		APIKeys:             1,
		APIRequestsPerMonth: 1000,
		ScheduledScans:      10,
		FullResults:         true,
		Export:              true,
	},
	PlanBusiness: {
		LifetimeScans:       Unlimited,
		DailyScans:          100,
		APIKeys:             5,
		APIRequestsPerMonth: 10000,
		ScheduledScans:      10,
		FullResults:         true,
		Export:              true,
	},
	PlanEnterprise: {
		LifetimeScans:       Unlimited,
		DailyScans:          Unlimited,
		APIKeys:             Unlimited,
		APIRequestsPerMonth: 100000,
		ScheduledScans:      10,
		FullResults:         true,
		Export:              true,
	},
}

var planRank = map[Plan]int{
	PlanFree:       0,
	PlanTrial:      1,
	PlanPro:        2,
	PlanBusiness:   3,
	PlanEnterprise: 4,
}

// ParsePlan разбирает строку тарифа
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, s)
	}
	return p, nil
}

// Valid сообщает, известен ли тариф
func (p Plan) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

// IsPaid true для оплачиваемых тарифов (trial не считается)
func (p Plan) IsPaid() bool {
	return p == PlanPro || p == PlanBusiness || p == PlanEnterprise
}

// Limits возвращает лимиты тарифа; неизвестный тариф считается free
func (p Plan) Limits() PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// Rank порядок тарифов для выбора лучшей подписки
func (p Plan) Rank() int {
	return planRank[p]
}

func (p Plan) String() string {
	return string(p)
}

// WithinLimit проверяет used < limit с учетом Unlimited
func WithinLimit(used, limit int) bool {
	if limit == Unlimited {
		return true
	}
	return used < limit
}
