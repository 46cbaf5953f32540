package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/kafka"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

// ReminderWindow за сколько до конца триала отправляется напоминание
const ReminderWindow = 24 * time.Hour

// TrialService переходы триала: старт, истечение, напоминания
type TrialService struct {
	users     repository.UserRepository
	audit     repository.AuditRepository
	publisher kafka.Publisher
	metrics   metrics.EntitlementMetrics
	clock     Clock
	duration  time.Duration
	log       *logger.Logger
}

// NewTrialService создает сервис триалов
func NewTrialService(
	users repository.UserRepository,
	audit repository.AuditRepository,
	publisher kafka.Publisher,
	m metrics.EntitlementMetrics,
	clock Clock,
	duration time.Duration,
	log *logger.Logger,
) *TrialService {
	return &TrialService{
		users:     users,
		audit:     audit,
		publisher: publisher,
		metrics:   m,
		clock:     clock,
		duration:  duration,
		log:       log,
	}
}

// StartTrial запускает единственный триал пользователя
func (s *TrialService) StartTrial(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("start trial: %w", err)
	}
	if !user.TrialAvailable() {
		s.log.Infow("Trial start rejected", "userID", userID, "subscription", user.Subscription, "hadTrial", user.HadTrial)
		return nil, domain.ErrTrialUnavailable
	}

	now := s.clock.Now()
	ends := now.Add(s.duration)
	started, err := s.users.StartTrial(ctx, userID, now, ends)
	if err != nil {
		return nil, fmt.Errorf("start trial: %w", err)
	}
	// условное обновление не сработало: параллельный запрос успел раньше
	if !started {
		return nil, domain.ErrTrialUnavailable
	}

	s.metrics.IncTrialTransition("started")
	s.log.Infow("Trial started", "userID", userID, "trialEnds", ends)
	_ = publishEvent(ctx, s.publisher, s.log, domain.NewEvent(domain.EventTrialStarted, userID, map[string]any{
		"trialEnds": ends,
	}, now))

	return s.users.GetByID(ctx, userID)
}

// EndExpiredTrials переводит истекшие триалы на free. Повторный запуск ничего не меняет.
func (s *TrialService) EndExpiredTrials(ctx context.Context) ([]string, error) {
	now := s.clock.Now()
	ids, err := s.users.ExpireTrials(ctx, now)
	if err != nil {
		s.log.Errorw("Failed to expire trials", "error", err)
		return nil, fmt.Errorf("end expired trials: %w", err)
	}

	for _, id := range ids {
		s.metrics.IncTrialTransition("expired")
		_ = publishEvent(ctx, s.publisher, s.log, domain.NewEvent(domain.EventTrialExpired, id, nil, now))
	}
	s.log.Infow("Expired trials processed", "count", len(ids))
	return ids, nil
}

// SendTrialReminders одно напоминание на триал, если до конца меньше суток
func (s *TrialService) SendTrialReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()
	users, err := s.users.ListTrialsEndingBetween(ctx, now, now.Add(ReminderWindow))
	if err != nil {
		return 0, fmt.Errorf("list ending trials: %w", err)
	}

	sent := 0
	for _, u := range users {
		ok, err := s.remind(ctx, u, now)
		if err != nil {
			// один пользователь не должен ломать весь батч
			s.log.Errorw("Failed to send trial reminder", "userID", u.ID, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	s.log.Infow("Trial reminders processed", "candidates", len(users), "sent", sent)
	return sent, nil
}

func (s *TrialService) remind(ctx context.Context, u domain.User, now time.Time) (bool, error) {
	var since time.Time
	if u.TrialStarted != nil {
		since = *u.TrialStarted
	}
	done, err := s.audit.HasActionSince(ctx, u.ID, domain.AuditTrialReminderSent, since)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	event := domain.NewEvent(domain.EventTrialReminder, u.ID, map[string]any{
		"email":     u.Email,
		"trialEnds": u.TrialEnds,
	}, now)
	// без события не пишем аудит: следующий запуск попробует снова
	if err := publishEvent(ctx, s.publisher, s.log, event); err != nil {
		return false, err
	}
	err = s.audit.Append(ctx, domain.NewAuditLog(u.ID, domain.AuditTrialReminderSent, map[string]any{
		"trialEnds": u.TrialEnds,
	}, now))
	return err == nil, err
}
