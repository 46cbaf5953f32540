package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/google/uuid"
)

const maxKeyNameLen = 100

// CreatedAPIKey выданный ключ. Secret показывается один раз.
type CreatedAPIKey struct {
	Key    *domain.APIKey `json:"key"`
	Secret string         `json:"secret"`
}

// APIKeyService управление API ключами пользователя
type APIKeyService struct {
	evaluator *Evaluator
	keys      repository.APIKeyRepository
	audit     repository.AuditRepository
	clock     Clock
	log       *logger.Logger
}

// NewAPIKeyService создает сервис ключей
func NewAPIKeyService(
	evaluator *Evaluator,
	keys repository.APIKeyRepository,
	audit repository.AuditRepository,
	clock Clock,
	log *logger.Logger,
) *APIKeyService {
	return &APIKeyService{evaluator: evaluator, keys: keys, audit: audit, clock: clock, log: log}
}

// List ключи пользователя без секретов
func (s *APIKeyService) List(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return s.keys.ListByUser(ctx, userID)
}

// Create выпускает ключ, если тариф и лимит позволяют
func (s *APIKeyService) Create(ctx context.Context, userID, name string, expiresAt *time.Time) (*CreatedAPIKey, domain.KeyCreationDecision, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Default"
	}
	now := s.clock.Now()
	var verrs domain.ValidationErrors
	if len(name) > maxKeyNameLen {
		verrs.Add("name", fmt.Sprintf("must be at most %d characters", maxKeyNameLen))
	}
	if expiresAt != nil && !expiresAt.After(now) {
		verrs.Add("expiresAt", "must be in the future")
	}
	if verrs.HasErrors() {
		return nil, domain.KeyCreationDecision{}, verrs
	}

	decision, err := s.evaluator.EvaluateAPIKeyCreation(ctx, userID, now)
	if err != nil {
		return nil, decision, err
	}
	if !decision.Allowed {
		return nil, decision, nil
	}

	plain, prefix, hash, err := domain.GenerateAPIKey()
	if err != nil {
		return nil, decision, err
	}
	key := &domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Active:    true,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, decision, fmt.Errorf("create api key: %w", err)
	}

	if err := s.audit.Append(ctx, domain.NewAuditLog(userID, domain.AuditAPIKeyCreated, map[string]any{
		"keyId":  key.ID,
		"prefix": prefix,
	}, now)); err != nil {
		s.log.Warnw("Failed to write api key audit entry", "userID", userID, "error", err)
	}

	s.log.Infow("API key created", "userID", userID, "keyID", key.ID, "prefix", prefix)
	return &CreatedAPIKey{Key: key, Secret: plain}, decision, nil
}

// Revoke отзывает ключ владельца. Повторный отзыв не ошибка.
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	key, err := s.keys.GetByID(ctx, keyID)
	if err != nil {
		return err
	}
	if key.UserID != userID {
		return domain.ErrForbidden
	}
	if !key.Active {
		return nil
	}

	if err := s.keys.Revoke(ctx, keyID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if err := s.audit.Append(ctx, domain.NewAuditLog(userID, domain.AuditAPIKeyRevoked, map[string]any{
		"keyId": keyID,
	}, s.clock.Now())); err != nil {
		s.log.Warnw("Failed to write api key audit entry", "userID", userID, "error", err)
	}

	s.log.Infow("API key revoked", "userID", userID, "keyID", keyID)
	return nil
}
