package domain

import "time"

// User пользователь сервиса. Жесткого удаления нет, только понижение до free.
type User struct {
	ID                   string     `db:"id" json:"id"`
	Email                string     `db:"email" json:"email"`
	Subscription         Plan       `db:"subscription" json:"subscription"`
	HadTrial             bool       `db:"had_trial" json:"hadTrial"`
	TrialStarted         *time.Time `db:"trial_started" json:"trialStarted,omitempty"`
	TrialEnds            *time.Time `db:"trial_ends" json:"trialEnds,omitempty"`
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"-"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"-"`
	APIRequestsUsed      int        `db:"api_requests_used" json:"apiRequestsUsed"`
	BillingCycleStart    *time.Time `db:"billing_cycle_start" json:"billingCycleStart,omitempty"`
	// PaidUntil конец оплаченного периода отмененной подписки
	PaidUntil *time.Time `db:"paid_until" json:"paidUntil,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// EffectivePlan тариф с учетом истекшего триала или оплаченного периода, которые еще не обработал cron.
func (u *User) EffectivePlan(now time.Time) Plan {
	if !u.Subscription.Valid() {
		return PlanFree
	}
	if u.Subscription == PlanTrial && !u.InTrialWindow(now) {
		return PlanFree
	}
	if u.PaidPeriodEnded(now) {
		return PlanFree
	}
	return u.Subscription
}

// PaidPeriodEnded отмененная подписка дошла до конца оплаченного периода
func (u *User) PaidPeriodEnded(now time.Time) bool {
	return u.Subscription.IsPaid() && u.PaidUntil != nil && !now.Before(*u.PaidUntil)
}

// InTrialWindow true пока триал активен
func (u *User) InTrialWindow(now time.Time) bool {
	return u.Subscription == PlanTrial && u.TrialEnds != nil && now.Before(*u.TrialEnds)
}

// TrialAvailable можно ли запустить триал: один раз за все время и только с free.
func (u *User) TrialAvailable() bool {
	return !u.HadTrial && u.TrialStarted == nil && u.Subscription == PlanFree
}

// HasBillingCustomer привязан ли пользователь к клиенту в Stripe
func (u *User) HasBillingCustomer() bool {
	return u.StripeCustomerID != nil && *u.StripeCustomerID != ""
}

// SubscriptionUpdate изменения тарифа, которые пишет обработчик вебхуков
type SubscriptionUpdate struct {
	Plan                 Plan
	StripeSubscriptionID *string
	TrialEnds            *time.Time
	// PaidUntil nil снимает ограничение периода
	PaidUntil *time.Time
	// MarkHadTrial выставить had_trial=true (конверсия из триала)
	MarkHadTrial bool
}
