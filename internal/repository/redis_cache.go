package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей пользователей
	userKeyPrefix = "user:"

	// TTL короткий: тариф меняется вебхуком, а он инвалидирует ключ
	defaultCacheTTL = 1 * time.Minute
)

// RedisCacheRepository кэш пользователей в Redis
type RedisCacheRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return NewRedisCacheFromClient(client, defaultCacheTTL, log), nil
}

// NewRedisCacheFromClient оборачивает готовый клиент
func NewRedisCacheFromClient(client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	return &RedisCacheRepository{client: client, ttl: ttl, log: log}
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheUser кэширует пользователя
func (r *RedisCacheRepository) CacheUser(ctx context.Context, user *domain.User) error {
	data, err := json.Marshal(cachedUser(*user))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := r.client.Set(ctx, userKeyPrefix+user.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache user: %w", err)
	}

	r.log.Debugw("User cached", "userID", user.ID)
	return nil
}

// GetCachedUser получает пользователя из кэша. nil, nil если ключа нет.
func (r *RedisCacheRepository) GetCachedUser(ctx context.Context, userID string) (*domain.User, error) {
	data, err := r.client.Get(ctx, userKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user from cache: %w", err)
	}

	var cu cachedUser
	if err := json.Unmarshal(data, &cu); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}
	user := domain.User(cu)
	return &user, nil
}

// InvalidateUsers удаляет пользователей из кэша
func (r *RedisCacheRepository) InvalidateUsers(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = userKeyPrefix + id
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate users: %w", err)
	}
	return nil
}

// cachedUser та же структура, но с сериализацией полей, скрытых в API (Stripe ID)
type cachedUser struct {
	ID                   string      `json:"id"`
	Email                string      `json:"email"`
	Subscription         domain.Plan `json:"subscription"`
	HadTrial             bool        `json:"had_trial"`
	TrialStarted         *time.Time  `json:"trial_started"`
	TrialEnds            *time.Time  `json:"trial_ends"`
	StripeCustomerID     *string     `json:"stripe_customer_id"`
	StripeSubscriptionID *string     `json:"stripe_subscription_id"`
	APIRequestsUsed      int         `json:"api_requests_used"`
	BillingCycleStart    *time.Time  `json:"billing_cycle_start"`
	PaidUntil            *time.Time  `json:"paid_until"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Ping проверяет доступность Redis
func (r *RedisCacheRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
