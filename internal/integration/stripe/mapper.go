package stripe

import (
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	stripego "github.com/stripe/stripe-go/v78"
)

// ToBillingSubscription преобразует подписку Stripe в доменную модель.
// Цена берется из первой позиции подписки.
func ToBillingSubscription(s *stripego.Subscription) domain.BillingSubscription {
	sub := domain.BillingSubscription{
		ID:                s.ID,
		Status:            domain.SubscriptionStatus(s.Status),
		CurrentPeriodEnd:  fromUnix(s.CurrentPeriodEnd),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		sub.PriceID = s.Items.Data[0].Price.ID
	}
	if s.CanceledAt > 0 {
		t := fromUnix(s.CanceledAt)
		sub.CanceledAt = &t
	}
	if s.TrialEnd > 0 {
		t := fromUnix(s.TrialEnd)
		sub.TrialEnd = &t
	}
	return sub
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
