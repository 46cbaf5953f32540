package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	stripego "github.com/stripe/stripe-go/v78"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func subscriptionPayload(status string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"customer": "cus_1",
			"status": %q,
			"current_period_end": 1767225600,
			"cancel_at_period_end": false,
			"metadata": {"user_id": "u1"},
			"items": {"object": "list", "data": [{"id": "si_1", "price": {"id": "price_pro"}}]}
		}}
	}`, stripego.APIVersion, status))
}

func TestParseEventAndExtractSubscription(t *testing.T) {
	payload := subscriptionPayload("active")
	event, err := ParseEvent(payload, sign(payload, testSecret, time.Now()), testSecret)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}

	sev, err := SubscriptionFromEvent(event)
	if err != nil {
		t.Fatalf("subscription from event: %v", err)
	}
	if sev.UserID != "u1" {
		t.Errorf("expected user u1, got %q", sev.UserID)
	}
	sub := sev.Subscription
	if sub.ID != "sub_1" || sub.CustomerID != "cus_1" || sub.PriceID != "price_pro" {
		t.Errorf("unexpected subscription: %+v", sub)
	}
	if sub.Status != domain.SubscriptionStatusActive {
		t.Errorf("expected active, got %s", sub.Status)
	}
	if !sub.CurrentPeriodEnd.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("unexpected period end %v", sub.CurrentPeriodEnd)
	}
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	payload := subscriptionPayload("active")
	_, err := ParseEvent(payload, sign(payload, "whsec_other", time.Now()), testSecret)
	if !errors.Is(err, domain.ErrWebhookValidationFailed) {
		t.Fatalf("expected webhook validation error, got %v", err)
	}
}

func TestIsRetryableStripeError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &stripego.Error{HTTPStatusCode: 429}, true},
		{"server error", &stripego.Error{HTTPStatusCode: 503}, true},
		{"not implemented", &stripego.Error{HTTPStatusCode: 501}, false},
		{"invalid request", &stripego.Error{HTTPStatusCode: 400, Type: stripego.ErrorTypeInvalidRequest}, false},
		{"connection refused", refused, true},
		{"wrapped network error", fmt.Errorf("list subscriptions: %w", refused), true},
		{"plain transport error", errors.New("unexpected EOF"), true},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableStripeError(context.Background(), tt.err); got != tt.want {
				t.Errorf("isRetryableStripeError() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if isRetryableStripeError(ctx, refused) {
			t.Error("network error after cancel must not be retried")
		}
	})
}

func TestToBillingSubscriptionWithoutItems(t *testing.T) {
	sub := ToBillingSubscription(&stripego.Subscription{ID: "sub_2", Status: stripego.SubscriptionStatusCanceled, CanceledAt: 1767225600})
	if sub.PriceID != "" {
		t.Errorf("expected empty price, got %q", sub.PriceID)
	}
	if sub.CanceledAt == nil || sub.CanceledAt.Unix() != 1767225600 {
		t.Errorf("unexpected canceled at %v", sub.CanceledAt)
	}
}
