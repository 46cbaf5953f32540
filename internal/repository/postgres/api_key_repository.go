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

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, active, last_used_at, expires_at, created_at`

// APIKeyRepository реализация репозитория API ключей через PostgreSQL
type APIKeyRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewAPIKeyRepository создает новый репозиторий API ключей
func NewAPIKeyRepository(db *sqlx.DB, log *logger.Logger) *APIKeyRepository {
	return &APIKeyRepository{db: db, log: log}
}

var _ repository.APIKeyRepository = (*APIKeyRepository)(nil)

func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, active, expires_at, created_at)
		VALUES (:id, :user_id, :name, :key_hash, :key_prefix, :active, :expires_at, :created_at)`, key)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("api key", "key_hash", key.KeyPrefix)
		}
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*domain.APIKey, error) {
	return r.getOne(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	return r.getOne(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
}

func (r *APIKeyRepository) getOne(ctx context.Context, query, arg string) (*domain.APIKey, error) {
	var k domain.APIKey
	if err := r.db.GetContext(ctx, &k, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("api key", "")
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}

func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]domain.APIKey, error) {
	var keys []domain.APIKey
	err := r.db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

func (r *APIKeyRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM api_keys
		WHERE user_id = $1 AND active AND (expires_at IS NULL OR expires_at > NOW())`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count api keys: %w", err)
	}
	return count, nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return expectOne(res, "api key", id)
}

func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}
