package domain

import (
	"fmt"
	"time"
)

// SubscriptionStatus статус подписки у платежного провайдера
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// BillingSubscription подписка в том виде, в каком ее видит провайдер
type BillingSubscription struct {
	ID                string             `json:"id"`
	CustomerID        string             `json:"customer_id"`
	PriceID           string             `json:"price_id"`
	Status            SubscriptionStatus `json:"status"`
	CurrentPeriodEnd  time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	CanceledAt        *time.Time         `json:"canceled_at,omitempty"`
	TrialEnd          *time.Time         `json:"trial_end,omitempty"`
}

// PriceTable единственная таблица соответствия price id → тариф
type PriceTable map[string]Plan

// NewPriceTable собирает таблицу из настроенных price id, пустые пропускаются
func NewPriceTable(pro, business, enterprise string) PriceTable {
	t := PriceTable{}
	for id, plan := range map[string]Plan{pro: PlanPro, business: PlanBusiness, enterprise: PlanEnterprise} {
		if id != "" {
			t[id] = plan
		}
	}
	return t
}

// PlanFor тариф для price id
func (t PriceTable) PlanFor(priceID string) (Plan, bool) {
	p, ok := t[priceID]
	return p, ok
}

// PlanResolution итог сопоставления подписок провайдера с тарифом
type PlanResolution struct {
	Plan           Plan
	SubscriptionID string
	Status         SubscriptionStatus
	// GraceUntil конец оплаченного периода для отмененной подписки
	GraceUntil *time.Time
	TrialEnd   *time.Time
	// Found false, если у клиента нет ни одной подписки, дающей платный доступ
	Found bool
}

// ResolvePlan выбирает лучший тариф среди подписок клиента.
// canceled внутри оплаченного периода сохраняет платный тариф до current_period_end.
func ResolvePlan(subs []BillingSubscription, prices PriceTable, now time.Time) (PlanResolution, error) {
	best := PlanResolution{Plan: PlanFree}

	for _, sub := range subs {
		candidate, err := resolveOne(sub, prices, now)
		if err != nil {
			return PlanResolution{}, err
		}
		if !candidate.Found {
			continue
		}
		if !best.Found || candidate.Plan.Rank() > best.Plan.Rank() {
			best = candidate
		}
	}
	return best, nil
}

func resolveOne(sub BillingSubscription, prices PriceTable, now time.Time) (PlanResolution, error) {
	r := PlanResolution{Plan: PlanFree, SubscriptionID: sub.ID, Status: sub.Status}

	switch sub.Status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue:
		plan, err := lookupPrice(prices, sub)
		if err != nil {
			return r, err
		}
		r.Plan, r.Found = plan, true

	case SubscriptionStatusTrialing:
		if _, err := lookupPrice(prices, sub); err != nil {
			return r, err
		}
		r.Plan, r.Found = PlanTrial, true
		r.TrialEnd = sub.TrialEnd

	case SubscriptionStatusCanceled:
		if !now.Before(sub.CurrentPeriodEnd) {
			return r, nil
		}
		plan, err := lookupPrice(prices, sub)
		if err != nil {
			return r, err
		}
		end := sub.CurrentPeriodEnd
		r.Plan, r.Found, r.GraceUntil = plan, true, &end
	}
	return r, nil
}

func lookupPrice(prices PriceTable, sub BillingSubscription) (Plan, error) {
	plan, ok := prices.PlanFor(sub.PriceID)
	if !ok {
		return "", fmt.Errorf("%w: price %q on subscription %s", ErrUnknownPrice, sub.PriceID, sub.ID)
	}
	return plan, nil
}
