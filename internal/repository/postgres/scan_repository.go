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

const scanColumns = `id, url, user_id, status, issue_count, results::text AS results, error, created_at, completed_at`

// ScanRepository реализация репозитория сканов через PostgreSQL
type ScanRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewScanRepository создает новый репозиторий сканов
func NewScanRepository(db *sqlx.DB, log *logger.Logger) *ScanRepository {
	return &ScanRepository{db: db, log: log}
}

var _ repository.ScanRepository = (*ScanRepository)(nil)

// Create сохраняет скан в статусе pending
func (r *ScanRepository) Create(ctx context.Context, scan *domain.Scan) error {
	results := scan.Results
	if results == "" {
		results = domain.RedactedResults
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scans (id, url, user_id, status, issue_count, results, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		scan.ID, scan.URL, scan.UserID, string(scan.Status), scan.IssueCount, results, scan.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("scan", "id", scan.ID)
		}
		return fmt.Errorf("failed to create scan: %w", err)
	}
	return nil
}

// Complete переводит pending скан в completed
func (r *ScanRepository) Complete(ctx context.Context, id string, issueCount int, results string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scans SET status = 'completed', issue_count = $2, results = $3::jsonb, completed_at = $4
		WHERE id = $1 AND status = 'pending'`,
		id, issueCount, results, at)
	if err != nil {
		return fmt.Errorf("failed to complete scan: %w", err)
	}
	return expectOne(res, "pending scan", id)
}

// Fail переводит pending скан в failed
func (r *ScanRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scans SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'`,
		id, reason, at)
	if err != nil {
		return fmt.Errorf("failed to mark scan failed: %w", err)
	}
	return expectOne(res, "pending scan", id)
}

// GetByID возвращает скан по ID
func (r *ScanRepository) GetByID(ctx context.Context, id string) (*domain.Scan, error) {
	var s domain.Scan
	err := r.db.GetContext(ctx, &s, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("scan", id)
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return &s, nil
}

// CountByUser все сканы пользователя за все время
func (r *ScanRepository) CountByUser(ctx context.Context, userID string, includeFailed bool) (int, error) {
	return r.CountByUserSince(ctx, userID, time.Time{}, includeFailed)
}

// CountByUserSince сканы пользователя начиная с since
func (r *ScanRepository) CountByUserSince(ctx context.Context, userID string, since time.Time, includeFailed bool) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM scans
		WHERE user_id = $1 AND created_at >= $2 AND ($3 OR status <> 'failed')`,
		userID, since, includeFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to count scans: %w", err)
	}
	return count, nil
}

// ListByUser последние сканы пользователя
func (r *ScanRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	var scans []domain.Scan
	err := r.db.SelectContext(ctx, &scans, `
		SELECT `+scanColumns+` FROM scans
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}
