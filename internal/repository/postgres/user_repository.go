package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, email, subscription, had_trial, trial_started, trial_ends,
	stripe_customer_id, stripe_subscription_id, api_requests_used, billing_cycle_start,
	paid_until, created_at, updated_at`

// UserRepository реализация репозитория пользователей через PostgreSQL
type UserRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewUserRepository создает новый репозиторий пользователей
func NewUserRepository(db *sqlx.DB, log *logger.Logger) *UserRepository {
	return &UserRepository{db: db, log: log}
}

var _ repository.UserRepository = (*UserRepository)(nil)

// GetByID возвращает пользователя по ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("user", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetByStripeCustomerID возвращает пользователя по ID клиента Stripe
func (r *UserRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("user", customerID)
		}
		return nil, fmt.Errorf("failed to get user by stripe customer: %w", err)
	}
	return &u, nil
}

// Ensure создает пользователя, если его нет
func (r *UserRepository) Ensure(ctx context.Context, id, email string) (*domain.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, subscription)
		VALUES ($1, $2, 'free')
		ON CONFLICT (id) DO UPDATE
			SET email = EXCLUDED.email, updated_at = NOW()
			WHERE EXCLUDED.email <> '' AND users.email <> EXCLUDED.email`,
		id, email)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return r.GetByID(ctx, id)
}

// LinkStripeCustomer привязывает клиента Stripe
func (r *UserRepository) LinkStripeCustomer(ctx context.Context, id, customerID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, id, customerID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("user", "stripe_customer_id", customerID)
		}
		return fmt.Errorf("failed to link stripe customer: %w", err)
	}
	return expectOne(res, "user", id)
}

// StartTrial запускает триал только если он еще доступен
func (r *UserRepository) StartTrial(ctx context.Context, id string, started, ends time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET subscription = 'trial', trial_started = $2, trial_ends = $3, updated_at = $2
		WHERE id = $1 AND had_trial = FALSE AND trial_started IS NULL AND subscription = 'free'`,
		id, started, ends)
	if err != nil {
		return false, fmt.Errorf("failed to start trial: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	entry := domain.NewAuditLog(id, domain.AuditTrialStarted, map[string]any{"trialEnds": ends}, started)
	if err := appendAudit(ctx, tx, entry); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit trial start: %w", err)
	}
	return true, nil
}

// ExpireTrials переводит всех истекших триальных пользователей на free
func (r *UserRepository) ExpireTrials(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var expired []struct {
		ID        string    `db:"id"`
		TrialEnds time.Time `db:"trial_ends"`
	}
	err = tx.SelectContext(ctx, &expired, `
		UPDATE users
		SET subscription = 'free', had_trial = TRUE, updated_at = $1
		WHERE subscription = 'trial' AND had_trial = FALSE AND trial_ends <= $1
		RETURNING id, trial_ends`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire trials: %w", err)
	}

	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		entry := domain.NewAuditLog(e.ID, domain.AuditTrialExpired, map[string]any{"trialEnds": e.TrialEnds}, now)
		if err := appendAudit(ctx, tx, entry); err != nil {
			return nil, err
		}
		ids = append(ids, e.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit trial expiry: %w", err)
	}
	return ids, nil
}

// EndPaidPeriods понижает до free отмененные подписки после конца оплаченного периода
func (r *UserRepository) EndPaidPeriods(ctx context.Context, now time.Time) ([]domain.User, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FOR UPDATE держит строки до коммита, параллельный запуск их уже не увидит
	var ended []domain.User
	err = tx.SelectContext(ctx, &ended, `
		SELECT `+userColumns+` FROM users
		WHERE subscription IN ('pro', 'business', 'enterprise') AND paid_until <= $1
		ORDER BY id
		FOR UPDATE`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select ended paid periods: %w", err)
	}

	for _, u := range ended {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET subscription = 'free', stripe_subscription_id = NULL, paid_until = NULL, updated_at = $2
			WHERE id = $1`, u.ID, now); err != nil {
			return nil, fmt.Errorf("failed to end paid period: %w", err)
		}
		entry := domain.NewAuditLog(u.ID, domain.AuditPlanChanged, map[string]any{
			"from":      u.Subscription,
			"to":        domain.PlanFree,
			"source":    "period_end",
			"paidUntil": u.PaidUntil,
		}, now)
		if err := appendAudit(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit paid period end: %w", err)
	}
	return ended, nil
}

// UpdateSubscription применяет результат синхронизации с биллингом
func (r *UserRepository) UpdateSubscription(ctx context.Context, id string, upd domain.SubscriptionUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET subscription = $2,
			stripe_subscription_id = $3,
			trial_ends = COALESCE($4, trial_ends),
			had_trial = had_trial OR $5,
			paid_until = $6,
			updated_at = NOW()
		WHERE id = $1`,
		id, string(upd.Plan), upd.StripeSubscriptionID, upd.TrialEnds, upd.MarkHadTrial, upd.PaidUntil)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return expectOne(res, "user", id)
}

// ListWithBillingCustomer пользователи с привязанным клиентом Stripe
func (r *UserRepository) ListWithBillingCustomer(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users WHERE stripe_customer_id IS NOT NULL AND stripe_customer_id <> '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing users: %w", err)
	}
	return users, nil
}

// ListTrialsEndingBetween активные триалы, заканчивающиеся в (from, to]
func (r *UserRepository) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]domain.User, error) {
	var users []domain.User
	err := r.db.SelectContext(ctx, &users, `
		SELECT `+userColumns+` FROM users
		WHERE subscription = 'trial' AND trial_ends > $1 AND trial_ends <= $2
		ORDER BY trial_ends`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list ending trials: %w", err)
	}
	return users, nil
}

// ResetAPIUsage начинает новый месячный цикл, если его еще не начал параллельный запрос
func (r *UserRepository) ResetAPIUsage(ctx context.Context, id string, previous *time.Time, cycleStart time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET api_requests_used = 0, billing_cycle_start = $3, updated_at = NOW()
		WHERE id = $1 AND billing_cycle_start IS NOT DISTINCT FROM $2`,
		id, previous, cycleStart)
	if err != nil {
		return false, fmt.Errorf("failed to reset api usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// IncrementAPIUsage условный инкремент, чтобы параллельные запросы не превысили лимит
func (r *UserRepository) IncrementAPIUsage(ctx context.Context, id string, limit int) (int, bool, error) {
	var used int
	err := r.db.GetContext(ctx, &used, `
		UPDATE users
		SET api_requests_used = api_requests_used + 1, updated_at = NOW()
		WHERE id = $1 AND ($2 < 0 OR api_requests_used < $2)
		RETURNING api_requests_used`, id, limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to increment api usage: %w", err)
	}
	return used, true, nil
}

func expectOne(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError(entity, id)
	}
	return nil
}
