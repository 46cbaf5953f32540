package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// AuditRepository журнал действий в PostgreSQL
type AuditRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewAuditRepository создает новый репозиторий аудита
func NewAuditRepository(db *sqlx.DB, log *logger.Logger) *AuditRepository {
	return &AuditRepository{db: db, log: log}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditLog) error {
	return appendAudit(ctx, r.db, entry)
}

func (r *AuditRepository) HasActionSince(ctx context.Context, userID string, action domain.AuditAction, since time.Time) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM audit_logs WHERE user_id = $1 AND action = $2 AND created_at >= $3
		)`, userID, string(action), since)
	if err != nil {
		return false, fmt.Errorf("failed to query audit log: %w", err)
	}
	return exists, nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.AuditLog
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, user_id, action, details::text AS details, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	return out, nil
}

// appendAudit пишет запись как в пуле, так и внутри транзакции
func appendAudit(ctx context.Context, exec sqlx.ExecerContext, entry domain.AuditLog) error {
	details := entry.Details
	if details == "" {
		details = "{}"
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, details, created_at)
		VALUES ($1, $2, $3::jsonb, $4)`,
		entry.UserID, string(entry.Action), details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}
