package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

// Evaluator решает, можно ли выполнить действие. Отказ это результат, а не ошибка;
// ошибка означает сбой хранилища, и вызывающий обязан ответить 5xx.
type Evaluator struct {
	users     repository.UserRepository
	keys      repository.APIKeyRepository
	schedules repository.ScheduledScanRepository
	usage     *UsageCounters
	metrics   metrics.EntitlementMetrics
	log       *logger.Logger
}

// NewEvaluator создает новый Evaluator
func NewEvaluator(
	users repository.UserRepository,
	keys repository.APIKeyRepository,
	schedules repository.ScheduledScanRepository,
	usage *UsageCounters,
	m metrics.EntitlementMetrics,
	log *logger.Logger,
) *Evaluator {
	return &Evaluator{
		users:     users,
		keys:      keys,
		schedules: schedules,
		usage:     usage,
		metrics:   m,
		log:       log,
	}
}

// EvaluateScanRequest доступ к скану и полнота ответа
func (e *Evaluator) EvaluateScanRequest(ctx context.Context, identity domain.Identity, now time.Time) (domain.ScanDecision, error) {
	if identity.Anonymous() {
		d := domain.ScanDecision{Plan: domain.PlanFree, Shape: domain.ShapeTeaser, Limit: domain.AnonymousScanLimit}
		if identity.HasMarker {
			d.Reason = domain.ReasonNeedsAuth
			d.Used = domain.AnonymousScanLimit
		} else {
			d.Allowed = true
			d.SetMarker = true
		}
		e.record(domain.ActionScan, d.Allowed, d.Reason)
		return d, nil
	}

	user, err := e.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return domain.ScanDecision{}, e.infraError(domain.ActionScan, err)
	}
	plan := user.EffectivePlan(now)
	limits := plan.Limits()
	d := domain.ScanDecision{Plan: plan}

	if !limits.FullResults {
		used, err := e.usage.LifetimeScans(ctx, user.ID)
		if err != nil {
			return domain.ScanDecision{}, e.infraError(domain.ActionScan, err)
		}
		d.Shape = domain.ShapeTeaser
		d.Limit = limits.LifetimeScans
		d.Used = used
		if domain.WithinLimit(used, limits.LifetimeScans) {
			d.Allowed = true
		} else {
			d.Reason = domain.ReasonNeedsUpgrade
		}
		e.record(domain.ActionScan, d.Allowed, d.Reason)
		return d, nil
	}

	used, err := e.usage.DailyScans(ctx, user.ID, now)
	if err != nil {
		return domain.ScanDecision{}, e.infraError(domain.ActionScan, err)
	}
	reset := e.usage.NextMidnight(now)
	d.Shape = domain.ShapeFull
	d.Limit = limits.DailyScans
	d.Used = used
	d.ResetAt = &reset
	if domain.WithinLimit(used, limits.DailyScans) {
		d.Allowed = true
	} else {
		d.Reason = domain.ReasonDailyLimitReached
	}
	e.record(domain.ActionScan, d.Allowed, d.Reason)
	return d, nil
}

// EvaluateAPIKeyCreation можно ли выпустить еще один ключ
func (e *Evaluator) EvaluateAPIKeyCreation(ctx context.Context, userID string, now time.Time) (domain.KeyCreationDecision, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return domain.KeyCreationDecision{}, e.infraError(domain.ActionCreateAPIKey, err)
	}
	plan := user.EffectivePlan(now)
	limit := plan.Limits().APIKeys
	d := domain.KeyCreationDecision{Plan: plan, Limit: limit}

	if limit == 0 {
		d.Reason = domain.ReasonPlanRequired
		e.record(domain.ActionCreateAPIKey, false, d.Reason)
		return d, nil
	}

	count, err := e.keys.CountActiveByUser(ctx, userID)
	if err != nil {
		return domain.KeyCreationDecision{}, e.infraError(domain.ActionCreateAPIKey, err)
	}
	d.CurrentCount = count
	// общий потолок ключей действует и для безлимитного тарифа
	if domain.WithinLimit(count, limit) && count < domain.MaxActiveAPIKeys {
		d.Allowed = true
	} else {
		d.Reason = domain.ReasonKeyLimitReached
	}
	e.record(domain.ActionCreateAPIKey, d.Allowed, d.Reason)
	return d, nil
}

// EvaluateAPIRequest проверяет ключ и списывает один запрос из месячной квоты
func (e *Evaluator) EvaluateAPIRequest(ctx context.Context, plainKey string, now time.Time) (domain.APIRequestDecision, error) {
	key, err := e.keys.GetByHash(ctx, domain.HashAPIKey(plainKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d := domain.APIRequestDecision{Reason: domain.ReasonInvalidKey}
			e.record(domain.ActionAPIRequest, false, d.Reason)
			return d, nil
		}
		return domain.APIRequestDecision{}, e.infraError(domain.ActionAPIRequest, err)
	}
	if !key.Usable(now) {
		d := domain.APIRequestDecision{Reason: domain.ReasonInvalidKey, KeyID: key.ID}
		e.record(domain.ActionAPIRequest, false, d.Reason)
		return d, nil
	}

	user, err := e.users.GetByID(ctx, key.UserID)
	if err != nil {
		return domain.APIRequestDecision{}, e.infraError(domain.ActionAPIRequest, err)
	}
	plan := user.EffectivePlan(now)
	limit := plan.Limits().APIRequestsPerMonth
	d := domain.APIRequestDecision{UserID: user.ID, KeyID: key.ID, Plan: plan, Limit: limit}

	if limit == 0 {
		d.Reason = domain.ReasonPlanRequired
		e.record(domain.ActionAPIRequest, false, d.Reason)
		return d, nil
	}

	cycleStart := now
	if user.BillingCycleStart != nil {
		cycleStart = *user.BillingCycleStart
	}
	if user.BillingCycleStart == nil || !now.Before(CycleEnd(cycleStart)) {
		reset, err := e.users.ResetAPIUsage(ctx, user.ID, user.BillingCycleStart, now)
		if err != nil {
			return domain.APIRequestDecision{}, e.infraError(domain.ActionAPIRequest, err)
		}
		if reset {
			cycleStart = now
			e.log.Infow("API usage cycle rolled over", "userID", user.ID, "cycleStart", cycleStart)
		} else {
			// цикл уже сменил параллельный запрос, берем его начало
			fresh, err := e.users.GetByID(ctx, user.ID)
			if err != nil {
				return domain.APIRequestDecision{}, e.infraError(domain.ActionAPIRequest, err)
			}
			if fresh.BillingCycleStart != nil {
				cycleStart = *fresh.BillingCycleStart
			}
		}
	}
	d.ResetEpoch = CycleEnd(cycleStart).Unix()

	used, ok, err := e.users.IncrementAPIUsage(ctx, user.ID, limit)
	if err != nil {
		return domain.APIRequestDecision{}, e.infraError(domain.ActionAPIRequest, err)
	}
	if !ok {
		d.Reason = domain.ReasonQuotaExceeded
		e.record(domain.ActionAPIRequest, false, d.Reason)
		return d, nil
	}

	d.Allowed = true
	d.Remaining = remaining(used, limit)
	if err := e.keys.TouchLastUsed(ctx, key.ID, now); err != nil {
		e.log.Warnw("Failed to update api key last used", "keyID", key.ID, "error", err)
	}
	e.record(domain.ActionAPIRequest, true, "")
	return d, nil
}

// EvaluateScheduleCreation лимит активных расписаний
func (e *Evaluator) EvaluateScheduleCreation(ctx context.Context, userID string, now time.Time) (domain.FeatureDecision, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return domain.FeatureDecision{}, e.infraError(domain.ActionSchedule, err)
	}
	plan := user.EffectivePlan(now)
	limit := plan.Limits().ScheduledScans
	d := domain.FeatureDecision{Plan: plan, Limit: limit}
	if limit == 0 {
		d.Reason = domain.ReasonPlanRequired
		e.record(domain.ActionSchedule, false, d.Reason)
		return d, nil
	}

	count, err := e.schedules.CountActiveByUser(ctx, userID)
	if err != nil {
		return domain.FeatureDecision{}, e.infraError(domain.ActionSchedule, err)
	}
	d.CurrentCount = count
	if domain.WithinLimit(count, limit) {
		d.Allowed = true
	} else {
		d.Reason = domain.ReasonScheduleLimitReached
	}
	e.record(domain.ActionSchedule, d.Allowed, d.Reason)
	return d, nil
}

// EvaluateExport доступ к экспорту отчета
func (e *Evaluator) EvaluateExport(ctx context.Context, userID string, now time.Time) (domain.FeatureDecision, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return domain.FeatureDecision{}, e.infraError(domain.ActionExport, err)
	}
	plan := user.EffectivePlan(now)
	d := domain.FeatureDecision{Plan: plan, Allowed: plan.Limits().Export}
	if !d.Allowed {
		d.Reason = domain.ReasonNeedsUpgrade
	}
	e.record(domain.ActionExport, d.Allowed, d.Reason)
	return d, nil
}

func (e *Evaluator) record(action domain.Action, allowed bool, reason domain.DenialReason) {
	if e.metrics != nil {
		e.metrics.ObserveDecision(action, allowed, reason)
	}
}

func (e *Evaluator) infraError(action domain.Action, err error) error {
	if e.metrics != nil {
		e.metrics.IncInfraError(action)
	}
	e.log.Errorw("Entitlement check failed", "action", action, "error", err)
	return fmt.Errorf("evaluate %s: %w", action, err)
}

func remaining(used, limit int) int {
	if limit == domain.Unlimited {
		return domain.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
