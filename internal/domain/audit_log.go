package domain

import (
	"encoding/json"
	"time"
)

// AuditAction тип значимого действия с аккаунтом
type AuditAction string

const (
	AuditTrialStarted      AuditAction = "trial_started"
	AuditTrialExpired      AuditAction = "trial_expired"
	AuditTrialConverted    AuditAction = "trial_converted"
	AuditTrialReminderSent AuditAction = "trial_reminder_sent"
	AuditPlanChanged       AuditAction = "plan_changed"
	AuditAPIKeyCreated     AuditAction = "api_key_created"
	AuditAPIKeyRevoked     AuditAction = "api_key_revoked"
)

// AuditLog запись журнала, только добавление
type AuditLog struct {
	ID        int64       `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"userId"`
	Action    AuditAction `db:"action" json:"action"`
	Details   string      `db:"details" json:"details"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

// NewAuditLog собирает запись с деталями в JSON
func NewAuditLog(userID string, action AuditAction, details map[string]any, now time.Time) AuditLog {
	raw := []byte("{}")
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			raw = b
		}
	}
	return AuditLog{
		UserID:    userID,
		Action:    action,
		Details:   string(raw),
		CreatedAt: now,
	}
}
