package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/a11y-scan-service/internal/integration/stripe"
	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/Dhoini/a11y-scan-service/pkg/res"
	"github.com/gin-gonic/gin"
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)
)

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	sync          *service.BillingSync
	log           *logger.Logger
	webhookSecret string
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(webhookSecret string, sync *service.BillingSync, log *logger.Logger) (*WebhookHandler, error) {
	if webhookSecret == "" {
		log.Errorw("Stripe webhook secret is not configured")
		return nil, errors.New("stripe webhook secret is not configured")
	}
	return &WebhookHandler{
		sync:          sync,
		log:           log,
		webhookSecret: webhookSecret,
	}, nil
}

// HandleStripeWebhook принимает события Stripe. 5xx заставляет Stripe повторить доставку.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()
	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		abortJSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "Cannot read request body"})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		abortJSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "Missing Stripe-Signature header"})
		return
	}

	event, err := stripe.ParseEvent(payload, sigHeader, h.webhookSecret)
	if err != nil {
		h.log.Errorw("Webhook signature verification failed", "error", err)
		abortJSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "Webhook signature verification failed"})
		return
	}
	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", event.Type)

	switch {
	case stripe.IsSubscriptionEvent(string(event.Type)):
		sub, err := stripe.SubscriptionFromEvent(event)
		if err != nil {
			h.log.Errorw("Failed to parse subscription event", "error", err, "eventID", event.ID)
			abortJSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "Failed to parse event data"})
			return
		}
		err = h.sync.HandleSubscriptionEvent(ctx, sub)
		if err != nil {
			h.log.Errorw("Error processing subscription event", "error", err, "eventID", event.ID, "eventType", event.Type)
			abortJSON(c, http.StatusInternalServerError, res.ErrorResponse{Error: "Internal server error processing webhook"})
			return
		}

	case string(event.Type) == stripe.EventCheckoutCompleted:
		checkout, err := stripe.CheckoutFromEvent(event)
		if err != nil {
			h.log.Errorw("Failed to parse checkout event", "error", err, "eventID", event.ID)
			abortJSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "Failed to parse event data"})
			return
		}
		if err := h.sync.HandleCheckout(ctx, checkout); err != nil {
			h.log.Errorw("Error processing checkout event", "error", err, "eventID", event.ID)
			abortJSON(c, http.StatusInternalServerError, res.ErrorResponse{Error: "Internal server error processing webhook"})
			return
		}

	default:
		h.log.Debugw("Ignoring unhandled Stripe event type", "eventID", event.ID, "eventType", event.Type)
	}

	c.Status(http.StatusOK)
}
