package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Client методы Stripe, которые нужны для синхронизации тарифов
type Client interface {
	// ListSubscriptions возвращает все подписки клиента в любом статусе
	ListSubscriptions(ctx context.Context, customerID string) ([]domain.BillingSubscription, error)
}

// Config конфигурация клиента Stripe
type Config struct {
	APIKey string
	// MaxElapsedTime общее время на повторы
	MaxElapsedTime time.Duration
}

// stripeClient реализует Client поверх stripe-go
type stripeClient struct {
	api            *client.API
	maxElapsedTime time.Duration
	log            *logger.Logger
}

// NewClient создает новый клиент Stripe
func NewClient(cfg Config, log *logger.Logger) Client {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &stripeClient{api: api, maxElapsedTime: maxElapsed, log: log}
}

// ListSubscriptions получает подписки клиента с повторами на временных ошибках
func (c *stripeClient) ListSubscriptions(ctx context.Context, customerID string) ([]domain.BillingSubscription, error) {
	var subs []domain.BillingSubscription

	operation := func() error {
		var err error
		subs, err = c.listOnce(ctx, customerID)
		if err == nil {
			return nil
		}
		if isRetryableStripeError(ctx, err) {
			c.log.Warnw("Retryable Stripe error, retrying", "customerID", customerID, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = c.maxElapsedTime
	bo.Reset()

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		logStripeError(c.log, "ListSubscriptions", err)
		return nil, toExternalError(err)
	}
	return subs, nil
}

func (c *stripeClient) listOnce(ctx context.Context, customerID string) ([]domain.BillingSubscription, error) {
	params := &stripego.SubscriptionListParams{
		Customer: stripego.String(customerID),
		Status:   stripego.String("all"),
	}
	params.Context = ctx

	var out []domain.BillingSubscription
	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		out = append(out, ToBillingSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// isRetryableStripeError проверяет, можно ли повторить запрос.
// Ответ Stripe повторяем только на 429 и 5xx кроме 501.
// Ошибки до ответа (сеть, таймаут соединения) повторяем, пока жив ctx.
func isRetryableStripeError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
		return stripeErr.HTTPStatusCode >= 500 && stripeErr.HTTPStatusCode != http.StatusNotImplemented
	}
	// net.Error и прочие ошибки транспорта без ответа Stripe
	return true
}

// toExternalError оборачивает ошибку Stripe в доменную
func toExternalError(err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return domain.NewExternalServiceError("stripe", string(stripeErr.Code), stripeErr.Msg, stripeErr.HTTPStatusCode, err)
	}
	return domain.NewExternalServiceError("stripe", "", fmt.Sprintf("request failed: %v", err), 0, err)
}

// logStripeError логирует детали ошибки Stripe
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
		return
	}
	log.Errorw("Non-Stripe error during Stripe operation", "operation", operation, "error", err)
}
