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

const scheduleColumns = `id, user_id, url, frequency, enabled, alert_on_new_issues, next_run,
	last_run, last_issue_count, created_at, updated_at`

// ScheduledScanRepository реализация репозитория запланированных сканов
type ScheduledScanRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewScheduledScanRepository создает новый репозиторий расписаний
func NewScheduledScanRepository(db *sqlx.DB, log *logger.Logger) *ScheduledScanRepository {
	return &ScheduledScanRepository{db: db, log: log}
}

var _ repository.ScheduledScanRepository = (*ScheduledScanRepository)(nil)

func (r *ScheduledScanRepository) Create(ctx context.Context, s *domain.ScheduledScan) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO scheduled_scans (id, user_id, url, frequency, enabled, alert_on_new_issues, next_run, created_at, updated_at)
		VALUES (:id, :user_id, :url, :frequency, :enabled, :alert_on_new_issues, :next_run, :created_at, :updated_at)`, s)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("scheduled scan", "id", s.ID)
		}
		return fmt.Errorf("failed to create scheduled scan: %w", err)
	}
	return nil
}

func (r *ScheduledScanRepository) GetByID(ctx context.Context, id string) (*domain.ScheduledScan, error) {
	var s domain.ScheduledScan
	err := r.db.GetContext(ctx, &s, `SELECT `+scheduleColumns+` FROM scheduled_scans WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("scheduled scan", id)
		}
		return nil, fmt.Errorf("failed to get scheduled scan: %w", err)
	}
	return &s, nil
}

func (r *ScheduledScanRepository) ListByUser(ctx context.Context, userID string) ([]domain.ScheduledScan, error) {
	var out []domain.ScheduledScan
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+scheduleColumns+` FROM scheduled_scans WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled scans: %w", err)
	}
	return out, nil
}

func (r *ScheduledScanRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM scheduled_scans WHERE user_id = $1 AND enabled`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled scans: %w", err)
	}
	return count, nil
}

func (r *ScheduledScanRepository) Update(ctx context.Context, s *domain.ScheduledScan) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE scheduled_scans
		SET url = :url, frequency = :frequency, enabled = :enabled,
			alert_on_new_issues = :alert_on_new_issues, next_run = :next_run, updated_at = :updated_at
		WHERE id = :id`, s)
	if err != nil {
		return fmt.Errorf("failed to update scheduled scan: %w", err)
	}
	return expectOne(res, "scheduled scan", s.ID)
}

func (r *ScheduledScanRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_scans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled scan: %w", err)
	}
	return expectOne(res, "scheduled scan", id)
}

// ListDue включенные расписания, у которых next_run наступил
func (r *ScheduledScanRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledScan, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.ScheduledScan
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+scheduleColumns+` FROM scheduled_scans
		WHERE enabled AND next_run <= $1
		ORDER BY next_run
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled scans: %w", err)
	}
	return out, nil
}

// MarkRun фиксирует запуск; issueCount < 0 оставляет прошлое значение
func (r *ScheduledScanRepository) MarkRun(ctx context.Context, id string, ranAt, nextRun time.Time, issueCount int) error {
	var count *int
	if issueCount >= 0 {
		count = &issueCount
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_scans
		SET last_run = $2, next_run = $3, last_issue_count = COALESCE($4, last_issue_count), updated_at = $2
		WHERE id = $1`, id, ranAt, nextRun, count)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled scan run: %w", err)
	}
	return expectOne(res, "scheduled scan", id)
}
