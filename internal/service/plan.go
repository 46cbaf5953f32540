package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
)

// PlanOverview текущий тариф и расход лимитов для личного кабинета
type PlanOverview struct {
	Plan           domain.Plan `json:"plan"`
	StoredPlan     domain.Plan `json:"storedPlan"`
	HadTrial       bool        `json:"hadTrial"`
	TrialAvailable bool        `json:"trialAvailable"`
	TrialEnds      *time.Time  `json:"trialEnds,omitempty"`

	ScansToday      int        `json:"scansToday"`
	DailyScanLimit  int        `json:"dailyScanLimit"`
	DailyResetAt    time.Time  `json:"dailyResetAt"`
	LifetimeScans   int        `json:"lifetimeScans"`
	LifetimeLimit   int        `json:"lifetimeLimit"`
	APIRequestsUsed int        `json:"apiRequestsUsed"`
	APIRequestLimit int        `json:"apiRequestLimit"`
	APICycleResetAt *time.Time `json:"apiCycleResetAt,omitempty"`
	APIKeyLimit     int        `json:"apiKeyLimit"`
	ScheduleLimit   int        `json:"scheduleLimit"`
	FullResults     bool       `json:"fullResults"`
	Export          bool       `json:"export"`
}

// PlanService сводка по тарифу
type PlanService struct {
	users repository.UserRepository
	usage *UsageCounters
	clock Clock
}

// NewPlanService создает сервис сводки
func NewPlanService(users repository.UserRepository, usage *UsageCounters, clock Clock) *PlanService {
	return &PlanService{users: users, usage: usage, clock: clock}
}

// Overview сводка для пользователя
func (s *PlanService) Overview(ctx context.Context, userID string) (*PlanOverview, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("plan overview: %w", err)
	}
	now := s.clock.Now()
	plan := user.EffectivePlan(now)
	limits := plan.Limits()

	today, err := s.usage.DailyScans(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("plan overview: %w", err)
	}
	lifetime, err := s.usage.LifetimeScans(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("plan overview: %w", err)
	}

	out := &PlanOverview{
		Plan:            plan,
		StoredPlan:      user.Subscription,
		HadTrial:        user.HadTrial,
		TrialAvailable:  user.TrialAvailable(),
		ScansToday:      today,
		DailyScanLimit:  limits.DailyScans,
		DailyResetAt:    s.usage.NextMidnight(now),
		LifetimeScans:   lifetime,
		LifetimeLimit:   limits.LifetimeScans,
		APIRequestsUsed: user.APIRequestsUsed,
		APIRequestLimit: limits.APIRequestsPerMonth,
		APIKeyLimit:     limits.APIKeys,
		ScheduleLimit:   limits.ScheduledScans,
		FullResults:     limits.FullResults,
		Export:          limits.Export,
	}
	if user.InTrialWindow(now) {
		out.TrialEnds = user.TrialEnds
	}
	if user.BillingCycleStart != nil {
		end := CycleEnd(*user.BillingCycleStart)
		if now.Before(end) {
			out.APICycleResetAt = &end
		} else {
			// цикл закончился, счетчик обнулится при следующем запросе
			out.APIRequestsUsed = 0
		}
	}
	return out, nil
}
