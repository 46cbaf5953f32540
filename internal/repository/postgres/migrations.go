package postgres

import (
	"context"
	"fmt"

	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                     TEXT PRIMARY KEY,
		email                  TEXT NOT NULL DEFAULT '',
		subscription           TEXT NOT NULL DEFAULT 'free'
			CHECK (subscription IN ('free', 'trial', 'pro', 'business', 'enterprise')),
		had_trial              BOOLEAN NOT NULL DEFAULT FALSE,
		trial_started          TIMESTAMPTZ,
		trial_ends             TIMESTAMPTZ,
		stripe_customer_id     TEXT UNIQUE,
		stripe_subscription_id TEXT,
		api_requests_used      INTEGER NOT NULL DEFAULT 0 CHECK (api_requests_used >= 0),
		billing_cycle_start    TIMESTAMPTZ,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_trial_ends ON users (trial_ends) WHERE subscription = 'trial'`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS paid_until TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS idx_users_paid_until ON users (paid_until) WHERE paid_until IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS scans (
		id           TEXT PRIMARY KEY,
		url          TEXT NOT NULL,
		user_id      TEXT REFERENCES users (id),
		status       TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		issue_count  INTEGER NOT NULL DEFAULT 0,
		results      JSONB NOT NULL DEFAULT '{}'::jsonb,
		error        TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_user_created ON scans (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL REFERENCES users (id),
		name         TEXT NOT NULL,
		key_hash     TEXT NOT NULL UNIQUE,
		key_prefix   TEXT NOT NULL,
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		last_used_at TIMESTAMPTZ,
		expires_at   TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys (user_id) WHERE active`,

	`CREATE TABLE IF NOT EXISTS scheduled_scans (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL REFERENCES users (id),
		url                 TEXT NOT NULL,
		frequency           TEXT NOT NULL CHECK (frequency IN ('daily', 'weekly', 'monthly')),
		enabled             BOOLEAN NOT NULL DEFAULT TRUE,
		alert_on_new_issues BOOLEAN NOT NULL DEFAULT FALSE,
		next_run            TIMESTAMPTZ NOT NULL,
		last_run            TIMESTAMPTZ,
		last_issue_count    INTEGER,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_scans_due ON scheduled_scans (next_run) WHERE enabled`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		action     TEXT NOT NULL,
		details    JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_user_action ON audit_logs (user_id, action, created_at)`,
}

// Migrate применяет схему. Все выражения идемпотентны.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	log.Infow("Database migrations applied", "count", len(migrations))
	return nil
}
