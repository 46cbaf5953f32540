package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/kafka"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultScheduleConcurrency = 4
	dueBatchSize               = 100
)

// ScheduleInput параметры нового расписания
type ScheduleInput struct {
	URL              string
	Frequency        string
	AlertOnNewIssues bool
}

// SchedulePatch частичное изменение расписания, nil = без изменений
type SchedulePatch struct {
	URL              *string
	Frequency        *string
	Enabled          *bool
	AlertOnNewIssues *bool
}

// RunSummary итог прогона запланированных сканов
type RunSummary struct {
	Due     int `json:"due"`
	Ran     int `json:"ran"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Alerts  int `json:"alerts"`
}

// ScheduleService расписания сканов и их исполнение
type ScheduleService struct {
	evaluator   *Evaluator
	users       repository.UserRepository
	schedules   repository.ScheduledScanRepository
	scans       *ScanService
	publisher   kafka.Publisher
	loc         *time.Location
	clock       Clock
	concurrency int
	log         *logger.Logger
}

// NewScheduleService создает сервис расписаний
func NewScheduleService(
	evaluator *Evaluator,
	users repository.UserRepository,
	schedules repository.ScheduledScanRepository,
	scans *ScanService,
	publisher kafka.Publisher,
	loc *time.Location,
	clock Clock,
	concurrency int,
	log *logger.Logger,
) *ScheduleService {
	if concurrency <= 0 {
		concurrency = defaultScheduleConcurrency
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleService{
		evaluator:   evaluator,
		users:       users,
		schedules:   schedules,
		scans:       scans,
		publisher:   publisher,
		loc:         loc,
		clock:       clock,
		concurrency: concurrency,
		log:         log,
	}
}

// List расписания пользователя
func (s *ScheduleService) List(ctx context.Context, userID string) ([]domain.ScheduledScan, error) {
	return s.schedules.ListByUser(ctx, userID)
}

// Create добавляет расписание, если тариф позволяет
func (s *ScheduleService) Create(ctx context.Context, userID string, in ScheduleInput) (*domain.ScheduledScan, domain.FeatureDecision, error) {
	target, err := domain.NormalizeScanURL(in.URL)
	if err != nil {
		return nil, domain.FeatureDecision{}, err
	}
	freq, err := domain.ParseFrequency(in.Frequency)
	if err != nil {
		return nil, domain.FeatureDecision{}, err
	}

	now := s.clock.Now()
	decision, err := s.evaluator.EvaluateScheduleCreation(ctx, userID, now)
	if err != nil || !decision.Allowed {
		return nil, decision, err
	}

	sched := &domain.ScheduledScan{
		ID:               uuid.NewString(),
		UserID:           userID,
		URL:              target,
		Frequency:        freq,
		Enabled:          true,
		AlertOnNewIssues: in.AlertOnNewIssues,
		NextRun:          domain.NextRun(freq, now, s.loc),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, decision, fmt.Errorf("create schedule: %w", err)
	}
	s.log.Infow("Scheduled scan created", "userID", userID, "scheduleID", sched.ID, "frequency", freq)
	return sched, decision, nil
}

// Update меняет расписание владельца. Возобновление снова проверяет лимит.
func (s *ScheduleService) Update(ctx context.Context, userID, id string, patch SchedulePatch) (*domain.ScheduledScan, domain.FeatureDecision, error) {
	sched, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, domain.FeatureDecision{}, err
	}
	now := s.clock.Now()
	decision := domain.FeatureDecision{Allowed: true}

	if patch.URL != nil {
		target, err := domain.NormalizeScanURL(*patch.URL)
		if err != nil {
			return nil, decision, err
		}
		sched.URL = target
	}
	if patch.Frequency != nil {
		freq, err := domain.ParseFrequency(*patch.Frequency)
		if err != nil {
			return nil, decision, err
		}
		if freq != sched.Frequency {
			sched.Frequency = freq
			sched.NextRun = domain.NextRun(freq, now, s.loc)
		}
	}
	if patch.AlertOnNewIssues != nil {
		sched.AlertOnNewIssues = *patch.AlertOnNewIssues
	}
	if patch.Enabled != nil && *patch.Enabled != sched.Enabled {
		if *patch.Enabled {
			decision, err = s.evaluator.EvaluateScheduleCreation(ctx, userID, now)
			if err != nil || !decision.Allowed {
				return nil, decision, err
			}
			// пропущенные за время паузы запуски не догоняем
			if sched.NextRun.Before(now) {
				sched.NextRun = domain.NextRun(sched.Frequency, now, s.loc)
			}
		}
		sched.Enabled = *patch.Enabled
	}

	sched.UpdatedAt = now
	if err := s.schedules.Update(ctx, sched); err != nil {
		return nil, decision, fmt.Errorf("update schedule: %w", err)
	}
	return sched, decision, nil
}

// Delete удаляет расписание владельца
func (s *ScheduleService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	s.log.Infow("Scheduled scan deleted", "userID", userID, "scheduleID", id)
	return nil
}

func (s *ScheduleService) owned(ctx context.Context, userID, id string) (*domain.ScheduledScan, error) {
	sched, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return sched, nil
}

// RunDue выполняет наступившие расписания ограниченным пулом.
// Ошибка одного скана не прерывает остальные; next_run сдвигается всегда.
func (s *ScheduleService) RunDue(ctx context.Context) (RunSummary, error) {
	now := s.clock.Now()
	due, err := s.schedules.ListDue(ctx, now, dueBatchSize)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list due schedules: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = RunSummary{Due: len(due)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, sched := range due {
		g.Go(func() error {
			outcome := s.runOne(gctx, sched, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case runSkipped:
				summary.Skipped++
			case runFailed:
				summary.Failed++
			case runAlerted:
				summary.Ran++
				summary.Alerts++
			default:
				summary.Ran++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Infow("Scheduled scans processed",
		"due", summary.Due, "ran", summary.Ran, "skipped", summary.Skipped, "failed", summary.Failed, "alerts", summary.Alerts)
	return summary, nil
}

type runOutcome int

const (
	runOK runOutcome = iota
	runSkipped
	runFailed
	runAlerted
)

func (s *ScheduleService) runOne(ctx context.Context, sched domain.ScheduledScan, now time.Time) runOutcome {
	next := domain.NextRun(sched.Frequency, now, s.loc)
	log := s.log.With("scheduleID", sched.ID, "userID", sched.UserID)

	user, err := s.users.GetByID(ctx, sched.UserID)
	if err != nil {
		log.Errorw("Failed to load schedule owner", "error", err)
		return runFailed
	}
	// тариф понизился: расписание остается, но не исполняется
	if user.EffectivePlan(now).Limits().ScheduledScans == 0 {
		log.Infow("Owner plan no longer includes scheduled scans, skipping", "plan", user.EffectivePlan(now))
		s.markRun(ctx, log, sched.ID, now, next, -1)
		return runSkipped
	}

	owner := sched.UserID
	_, result, err := s.scans.execute(ctx, &owner, sched.URL, domain.ShapeFull)
	if err != nil {
		log.Warnw("Scheduled scan failed", "url", sched.URL, "error", err)
		s.markRun(ctx, log, sched.ID, now, next, -1)
		return runFailed
	}

	issues := result.IssueCount()
	s.markRun(ctx, log, sched.ID, now, next, issues)

	if sched.AlertOnNewIssues && sched.LastIssueCount != nil && issues > *sched.LastIssueCount {
		_ = publishEvent(ctx, s.publisher, s.log, domain.NewEvent(domain.EventScanNewIssues, sched.UserID, map[string]any{
			"scheduleId": sched.ID,
			"url":        sched.URL,
			"previous":   *sched.LastIssueCount,
			"current":    issues,
		}, now))
		return runAlerted
	}
	return runOK
}

func (s *ScheduleService) markRun(ctx context.Context, log *logger.Logger, id string, ranAt, next time.Time, issues int) {
	if err := s.schedules.MarkRun(context.WithoutCancel(ctx), id, ranAt, next, issues); err != nil {
		log.Errorw("Failed to advance schedule", "error", err)
	}
}
