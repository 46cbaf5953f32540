package repository

import (
	"context"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
)

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error)
	// Ensure создает пользователя на free, если его еще нет, и возвращает текущую запись
	Ensure(ctx context.Context, id, email string) (*domain.User, error)
	LinkStripeCustomer(ctx context.Context, id, customerID string) error
	// StartTrial условное обновление с записью trial_started в audit:
	// false, если пользователь уже не подходит под триал
	StartTrial(ctx context.Context, id string, started, ends time.Time) (bool, error)
	// ExpireTrials переводит истекшие триалы на free и пишет audit в одной транзакции
	ExpireTrials(ctx context.Context, now time.Time) ([]string, error)
	// EndPaidPeriods переводит на free пользователей с истекшим paid_until, пишет audit в той же транзакции.
	// Возвращает состояние пользователей до изменения.
	EndPaidPeriods(ctx context.Context, now time.Time) ([]domain.User, error)
	UpdateSubscription(ctx context.Context, id string, upd domain.SubscriptionUpdate) error
	ListWithBillingCustomer(ctx context.Context) ([]domain.User, error)
	ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]domain.User, error)
	// ResetAPIUsage обнуляет счетчик и начинает новый цикл, только если цикл все еще previous.
	// false: цикл уже сменил параллельный запрос.
	ResetAPIUsage(ctx context.Context, id string, previous *time.Time, cycleStart time.Time) (bool, error)
	// IncrementAPIUsage атомарно увеличивает счетчик, если он меньше limit (Unlimited = без проверки)
	IncrementAPIUsage(ctx context.Context, id string, limit int) (used int, ok bool, err error)
}

// ScanRepository интерфейс для работы со сканами
type ScanRepository interface {
	Create(ctx context.Context, scan *domain.Scan) error
	Complete(ctx context.Context, id string, issueCount int, results string, at time.Time) error
	Fail(ctx context.Context, id, reason string, at time.Time) error
	GetByID(ctx context.Context, id string) (*domain.Scan, error)
	CountByUser(ctx context.Context, userID string, includeFailed bool) (int, error)
	CountByUserSince(ctx context.Context, userID string, since time.Time, includeFailed bool) (int, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Scan, error)
}

// APIKeyRepository интерфейс для работы с API ключами
type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByID(ctx context.Context, id string) (*domain.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByUser(ctx context.Context, userID string) ([]domain.APIKey, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	// Revoke мягкий отзыв, запись остается для аудита
	Revoke(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// ScheduledScanRepository интерфейс для запланированных сканов
type ScheduledScanRepository interface {
	Create(ctx context.Context, s *domain.ScheduledScan) error
	GetByID(ctx context.Context, id string) (*domain.ScheduledScan, error)
	ListByUser(ctx context.Context, userID string) ([]domain.ScheduledScan, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	Update(ctx context.Context, s *domain.ScheduledScan) error
	Delete(ctx context.Context, id string) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledScan, error)
	MarkRun(ctx context.Context, id string, ranAt, nextRun time.Time, issueCount int) error
}

// AuditRepository журнал действий, только добавление
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditLog) error
	HasActionSince(ctx context.Context, userID string, action domain.AuditAction, since time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditLog, error)
}
