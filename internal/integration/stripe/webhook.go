package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Типы событий, которые меняют тариф
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventCheckoutCompleted   = "checkout.session.completed"

	metadataUserIDKey = "user_id"
)

// SubscriptionEvent изменение подписки из вебхука
type SubscriptionEvent struct {
	EventID      string
	Type         string
	Subscription domain.BillingSubscription
	// UserID из metadata подписки, если checkout его передал
	UserID string
}

// CheckoutEvent завершенный checkout: связывает пользователя с клиентом Stripe
type CheckoutEvent struct {
	EventID    string
	CustomerID string
	UserID     string
}

// ParseEvent проверяет подпись и разбирает событие
func ParseEvent(payload []byte, signature, secret string) (stripego.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return stripego.Event{}, fmt.Errorf("%w: %v", domain.ErrWebhookValidationFailed, err)
	}
	return event, nil
}

// IsSubscriptionEvent относится ли событие к подпискам
func IsSubscriptionEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// SubscriptionFromEvent извлекает подписку из customer.subscription.* события
func SubscriptionFromEvent(event stripego.Event) (*SubscriptionEvent, error) {
	if !IsSubscriptionEvent(string(event.Type)) {
		return nil, fmt.Errorf("%w: unexpected event type %s", domain.ErrInvalidInput, event.Type)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", domain.ErrInvalidInput, event.ID)
	}

	var sub stripego.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: failed to parse subscription: %v", domain.ErrInvalidInput, err)
	}

	return &SubscriptionEvent{
		EventID:      event.ID,
		Type:         string(event.Type),
		Subscription: ToBillingSubscription(&sub),
		UserID:       sub.Metadata[metadataUserIDKey],
	}, nil
}

// CheckoutFromEvent извлекает связь пользователь → клиент из checkout.session.completed
func CheckoutFromEvent(event stripego.Event) (*CheckoutEvent, error) {
	if string(event.Type) != EventCheckoutCompleted || event.Data == nil {
		return nil, fmt.Errorf("%w: unexpected event type %s", domain.ErrInvalidInput, event.Type)
	}

	var session stripego.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: failed to parse checkout session: %v", domain.ErrInvalidInput, err)
	}

	out := &CheckoutEvent{EventID: event.ID, UserID: session.ClientReferenceID}
	if out.UserID == "" {
		out.UserID = session.Metadata[metadataUserIDKey]
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	return out, nil
}
