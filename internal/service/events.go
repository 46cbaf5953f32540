package service

import (
	"context"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/kafka"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

const publishTimeout = 5 * time.Second

// publishEvent отправляет событие; ошибка публикации не откатывает операцию
func publishEvent(ctx context.Context, p kafka.Publisher, log *logger.Logger, event domain.Event) error {
	if p == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.Publish(pubCtx, event); err != nil {
		log.Errorw("Failed to publish event", "eventType", event.Type, "userID", event.UserID, "error", err)
		return err
	}
	return nil
}
