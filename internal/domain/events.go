package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType тип события для внешних потребителей (почта, алерты)
type EventType string

const (
	EventTrialStarted   EventType = "trial.started"
	EventTrialExpired   EventType = "trial.expired"
	EventTrialConverted EventType = "trial.converted"
	EventTrialReminder  EventType = "trial.reminder"
	EventPlanChanged    EventType = "plan.changed"
	EventScanCompleted  EventType = "scan.completed"
	EventScanNewIssues  EventType = "scan.new_issues"
)

// Event сообщение в шину событий
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	UserID     string         `json:"userId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewEvent создает событие с новым ID
func NewEvent(typ EventType, userID string, payload map[string]any, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     userID,
		OccurredAt: now,
		Payload:    payload,
	}
}
