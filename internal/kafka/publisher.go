package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Топики по умолчанию
const (
	DefaultAccountTopic = "a11y.account-events"
	DefaultScanTopic    = "a11y.scan-events"
)

// Publisher публикует доменные события
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}

// Topics куда отправлять события каждого вида
type Topics struct {
	Account string
	Scan    string
}

// For выбирает топик по типу события: scan.* идут в Scan, остальное в Account
func (t Topics) For(typ domain.EventType) string {
	if strings.HasPrefix(string(typ), "scan.") {
		return t.Scan
	}
	return t.Account
}

// List все топики
func (t Topics) List() []string {
	return []string{t.Account, t.Scan}
}

// kafkaPublisher реализует Publisher через segmentio/kafka-go
type kafkaPublisher struct {
	writer *kafka.Writer
	topics Topics
	log    *logger.Logger
}

// NewKafkaPublisher создает и настраивает продюсер Kafka
func NewKafkaPublisher(brokers []string, topics Topics, log *logger.Logger) (Publisher, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create publisher")
		return nil, errors.New("kafka brokers are not configured")
	}
	if topics.Account == "" {
		topics.Account = DefaultAccountTopic
	}
	if topics.Scan == "" {
		topics.Scan = DefaultScanTopic
	}

	// Topic не задан: он указывается в каждом сообщении
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka publisher initialized", "brokers", brokers, "accountTopic", topics.Account, "scanTopic", topics.Scan)
	return &kafkaPublisher{writer: writer, topics: topics, log: log}, nil
}

// Publish отправляет событие; ключ сообщения = UserID, чтобы события пользователя шли по порядку
func (k *kafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	topic := k.topics.For(event.Type)

	value, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal event", "error", err, "eventType", event.Type, "topic", topic)
		return fmt.Errorf("kafka: failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "eventID", event.ID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "eventID", event.ID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Event published", "topic", topic, "eventType", event.Type, "userID", event.UserID)
	return nil
}

// Close закрывает Kafka Writer
func (k *kafkaPublisher) Close() error {
	k.log.Infow("Closing Kafka publisher writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}

// NoopPublisher используется, когда Kafka выключена
type NoopPublisher struct {
	log *logger.Logger
}

// NewNoopPublisher создает publisher, который только пишет в лог
func NewNoopPublisher(log *logger.Logger) *NoopPublisher {
	return &NoopPublisher{log: log}
}

func (p *NoopPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.log.Debugw("Kafka disabled, event dropped", "eventType", event.Type, "userID", event.UserID)
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
