package repository

import (
	"context"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

// CachedUserRepository реализует UserRepository с кешированием чтения по ID
type CachedUserRepository struct {
	repo  UserRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedUserRepository создает новый репозиторий с кешированием
func NewCachedUserRepository(repo UserRepository, cache *RedisCacheRepository, log *logger.Logger) UserRepository {
	return &CachedUserRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetByID получает пользователя (сначала из кеша, потом из БД)
func (r *CachedUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	cached, err := r.cache.GetCachedUser(ctx, id)
	if err != nil {
		// Продолжаем выполнение при ошибке кеша
		r.log.Warnw("Error getting user from cache", "error", err, "userID", id)
	}
	if cached != nil {
		return cached, nil
	}

	user, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheUser(ctx, user); err != nil {
		r.log.Warnw("Failed to cache user after fetching", "error", err, "userID", id)
	}
	return user, nil
}

func (r *CachedUserRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	return r.repo.GetByStripeCustomerID(ctx, customerID)
}

func (r *CachedUserRepository) Ensure(ctx context.Context, id, email string) (*domain.User, error) {
	return r.repo.Ensure(ctx, id, email)
}

func (r *CachedUserRepository) LinkStripeCustomer(ctx context.Context, id, customerID string) error {
	defer r.invalidate(ctx, id)
	return r.repo.LinkStripeCustomer(ctx, id, customerID)
}

func (r *CachedUserRepository) StartTrial(ctx context.Context, id string, started, ends time.Time) (bool, error) {
	defer r.invalidate(ctx, id)
	return r.repo.StartTrial(ctx, id, started, ends)
}

func (r *CachedUserRepository) ExpireTrials(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.repo.ExpireTrials(ctx, now)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, ids...)
	return ids, nil
}

func (r *CachedUserRepository) EndPaidPeriods(ctx context.Context, now time.Time) ([]domain.User, error) {
	ended, err := r.repo.EndPaidPeriods(ctx, now)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ended))
	for _, u := range ended {
		ids = append(ids, u.ID)
	}
	r.invalidate(ctx, ids...)
	return ended, nil
}

func (r *CachedUserRepository) UpdateSubscription(ctx context.Context, id string, upd domain.SubscriptionUpdate) error {
	defer r.invalidate(ctx, id)
	return r.repo.UpdateSubscription(ctx, id, upd)
}

func (r *CachedUserRepository) ListWithBillingCustomer(ctx context.Context) ([]domain.User, error) {
	return r.repo.ListWithBillingCustomer(ctx)
}

func (r *CachedUserRepository) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]domain.User, error) {
	return r.repo.ListTrialsEndingBetween(ctx, from, to)
}

func (r *CachedUserRepository) ResetAPIUsage(ctx context.Context, id string, previous *time.Time, cycleStart time.Time) (bool, error) {
	defer r.invalidate(ctx, id)
	return r.repo.ResetAPIUsage(ctx, id, previous, cycleStart)
}

func (r *CachedUserRepository) IncrementAPIUsage(ctx context.Context, id string, limit int) (int, bool, error) {
	defer r.invalidate(ctx, id)
	return r.repo.IncrementAPIUsage(ctx, id, limit)
}

// invalidate удаляет ключи; ошибка кеша не должна ломать запись
func (r *CachedUserRepository) invalidate(ctx context.Context, ids ...string) {
	if err := r.cache.InvalidateUsers(ctx, ids...); err != nil {
		r.log.Warnw("Failed to invalidate user cache", "error", err, "userIDs", ids)
	}
}
