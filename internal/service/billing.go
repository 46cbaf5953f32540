package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/integration/stripe"
	"github.com/Dhoini/a11y-scan-service/internal/kafka"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

// planTarget во что должна превратиться локальная запись по данным биллинга
type planTarget struct {
	Plan           domain.Plan
	SubscriptionID string
	TrialEnd       *time.Time
	PaidUntil      *time.Time
}

// targetFor сводит ответ провайдера с внутренним триалом: триал без подписки в Stripe сохраняется
func targetFor(user *domain.User, res domain.PlanResolution, now time.Time) planTarget {
	if !res.Found && user.InTrialWindow(now) {
		return planTarget{Plan: domain.PlanTrial, TrialEnd: user.TrialEnds}
	}
	return planTarget{Plan: res.Plan, SubscriptionID: res.SubscriptionID, TrialEnd: res.TrialEnd, PaidUntil: res.GraceUntil}
}

func (t planTarget) update(user *domain.User) domain.SubscriptionUpdate {
	upd := domain.SubscriptionUpdate{Plan: t.Plan, TrialEnds: t.TrialEnd, PaidUntil: t.PaidUntil}
	if t.SubscriptionID != "" {
		id := t.SubscriptionID
		upd.StripeSubscriptionID = &id
	}
	// триал закончился (конверсия или отмена): предложение больше не доступно
	if (user.Subscription == domain.PlanTrial || user.TrialStarted != nil) && t.Plan != domain.PlanTrial {
		upd.MarkHadTrial = true
	}
	return upd
}

func (t planTarget) differs(user *domain.User) bool {
	if t.Plan != user.Subscription {
		return true
	}
	if !sameTime(t.PaidUntil, user.PaidUntil) {
		return true
	}
	current := ""
	if user.StripeSubscriptionID != nil {
		current = *user.StripeSubscriptionID
	}
	return t.SubscriptionID != "" && t.SubscriptionID != current
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ReconcileResult итог сверки одного пользователя
type ReconcileResult struct {
	UserID  string      `json:"userId"`
	Local   domain.Plan `json:"local"`
	Remote  domain.Plan `json:"remote"`
	Changed bool        `json:"changed"`
	Applied bool        `json:"applied"`
	Skipped string      `json:"skipped,omitempty"`
}

// ReconcileSummary итог пакетной сверки
type ReconcileSummary struct {
	Checked int               `json:"checked"`
	Drifted int               `json:"drifted"`
	Applied int               `json:"applied"`
	Failed  int               `json:"failed"`
	Results []ReconcileResult `json:"results"`
}

// BillingReconciler сверяет локальный тариф с подписками в Stripe.
// По умолчанию только отчет; запись включается явно (apply).
type BillingReconciler struct {
	users   repository.UserRepository
	audit   repository.AuditRepository
	client  stripe.Client
	prices  domain.PriceTable
	metrics metrics.EntitlementMetrics
	clock   Clock
	log     *logger.Logger
}

// NewBillingReconciler создает сервис сверки
func NewBillingReconciler(
	users repository.UserRepository,
	audit repository.AuditRepository,
	client stripe.Client,
	prices domain.PriceTable,
	m metrics.EntitlementMetrics,
	clock Clock,
	log *logger.Logger,
) *BillingReconciler {
	return &BillingReconciler{
		users:   users,
		audit:   audit,
		client:  client,
		prices:  prices,
		metrics: m,
		clock:   clock,
		log:     log,
	}
}

// Reconcile сверяет одного пользователя. Ошибка провайдера не меняет локальное состояние.
func (r *BillingReconciler) Reconcile(ctx context.Context, userID string, apply bool) (ReconcileResult, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return ReconcileResult{UserID: userID}, fmt.Errorf("reconcile: %w", err)
	}
	result := ReconcileResult{UserID: userID, Local: user.Subscription}

	if !user.HasBillingCustomer() {
		result.Remote = user.Subscription
		result.Skipped = "no billing customer"
		r.metrics.IncReconcile("skipped")
		return result, nil
	}

	subs, err := r.client.ListSubscriptions(ctx, *user.StripeCustomerID)
	if err != nil {
		r.metrics.IncReconcile("provider_error")
		r.log.Errorw("Billing provider unavailable, local plan left untouched", "userID", userID, "error", err)
		return result, fmt.Errorf("reconcile %s: %w", userID, err)
	}

	now := r.clock.Now()
	res, err := domain.ResolvePlan(subs, r.prices, now)
	if err != nil {
		r.metrics.IncReconcile("unknown_price")
		r.log.Errorw("Cannot map provider subscription to a plan", "userID", userID, "error", err)
		return result, fmt.Errorf("reconcile %s: %w", userID, err)
	}

	target := targetFor(user, res, now)
	result.Remote = target.Plan
	result.Changed = target.differs(user)
	if !result.Changed {
		r.metrics.IncReconcile("in_sync")
		return result, nil
	}

	r.log.Warnw("Plan drift detected", "userID", userID, "local", user.Subscription, "remote", target.Plan, "apply", apply)
	if !apply {
		r.metrics.IncReconcile("drift")
		return result, nil
	}

	if err := r.users.UpdateSubscription(ctx, userID, target.update(user)); err != nil {
		r.metrics.IncReconcile("write_error")
		return result, fmt.Errorf("reconcile %s: %w", userID, err)
	}
	if err := r.audit.Append(ctx, domain.NewAuditLog(userID, domain.AuditPlanChanged, map[string]any{
		"from":   user.Subscription,
		"to":     target.Plan,
		"source": "reconcile",
	}, now)); err != nil {
		r.log.Warnw("Failed to write reconcile audit entry", "userID", userID, "error", err)
	}
	result.Applied = true
	r.metrics.IncReconcile("applied")
	return result, nil
}

// ReconcileAll сверяет всех пользователей с клиентом в Stripe; ошибки по одному не прерывают батч
func (r *BillingReconciler) ReconcileAll(ctx context.Context, apply bool) (ReconcileSummary, error) {
	users, err := r.users.ListWithBillingCustomer(ctx)
	if err != nil {
		return ReconcileSummary{}, fmt.Errorf("list billing users: %w", err)
	}

	summary := ReconcileSummary{Results: make([]ReconcileResult, 0, len(users))}
	for _, u := range users {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		res, err := r.Reconcile(ctx, u.ID, apply)
		if err != nil {
			summary.Failed++
			r.log.Errorw("Reconcile failed for user", "userID", u.ID, "error", err)
			continue
		}
		if res.Changed {
			summary.Drifted++
		}
		if res.Applied {
			summary.Applied++
		}
		summary.Results = append(summary.Results, res)
	}

	r.log.Infow("Reconciliation finished",
		"checked", summary.Checked, "drifted", summary.Drifted, "applied", summary.Applied, "failed", summary.Failed)
	return summary, nil
}

// BillingSync единственный писатель тарифа: применяет события вебхука Stripe
type BillingSync struct {
	users     repository.UserRepository
	audit     repository.AuditRepository
	publisher kafka.Publisher
	prices    domain.PriceTable
	metrics   metrics.EntitlementMetrics
	clock     Clock
	log       *logger.Logger
}

// NewBillingSync создает обработчик событий подписки
func NewBillingSync(
	users repository.UserRepository,
	audit repository.AuditRepository,
	publisher kafka.Publisher,
	prices domain.PriceTable,
	m metrics.EntitlementMetrics,
	clock Clock,
	log *logger.Logger,
) *BillingSync {
	return &BillingSync{
		users:     users,
		audit:     audit,
		publisher: publisher,
		prices:    prices,
		metrics:   m,
		clock:     clock,
		log:       log,
	}
}

// HandleCheckout связывает пользователя с клиентом Stripe после оплаты
func (s *BillingSync) HandleCheckout(ctx context.Context, ev *stripe.CheckoutEvent) error {
	if ev.UserID == "" || ev.CustomerID == "" {
		s.log.Warnw("Checkout event without user or customer, ignoring", "eventID", ev.EventID)
		return nil
	}
	if err := s.users.LinkStripeCustomer(ctx, ev.UserID, ev.CustomerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Checkout for unknown user", "eventID", ev.EventID, "userID", ev.UserID)
			return nil
		}
		// повтор от Stripe не исправит конфликт, подтверждаем событие
		if errors.Is(err, domain.ErrDuplicate) {
			s.log.Warnw("Stripe customer already linked to another user, ignoring checkout",
				"eventID", ev.EventID, "userID", ev.UserID, "customerID", ev.CustomerID)
			return nil
		}
		return fmt.Errorf("link stripe customer: %w", err)
	}
	s.log.Infow("Stripe customer linked", "userID", ev.UserID, "customerID", ev.CustomerID)
	return nil
}

// HandleSubscriptionEvent применяет created/updated/deleted к тарифу пользователя
func (s *BillingSync) HandleSubscriptionEvent(ctx context.Context, ev *stripe.SubscriptionEvent) error {
	user, err := s.findUser(ctx, ev)
	if err != nil {
		return err
	}
	if user == nil {
		s.log.Warnw("Subscription event for unknown customer, ignoring",
			"eventID", ev.EventID, "customerID", ev.Subscription.CustomerID)
		return nil
	}

	now := s.clock.Now()
	res, err := domain.ResolvePlan([]domain.BillingSubscription{ev.Subscription}, s.prices, now)
	if err != nil {
		s.log.Errorw("Cannot map subscription price to a plan", "eventID", ev.EventID, "priceID", ev.Subscription.PriceID)
		return fmt.Errorf("resolve plan: %w", err)
	}
	target := targetFor(user, res, now)

	// отмена старой подписки не должна понижать пользователя, у которого уже другая подписка
	if s.isStaleDowngrade(user, ev.Subscription.ID, target) {
		s.log.Infow("Ignoring event for a non-current subscription",
			"eventID", ev.EventID, "userID", user.ID, "subscriptionID", ev.Subscription.ID)
		return nil
	}
	if !target.differs(user) {
		s.log.Debugw("Subscription event does not change plan", "eventID", ev.EventID, "userID", user.ID)
		return nil
	}

	upd := target.update(user)
	if err := s.users.UpdateSubscription(ctx, user.ID, upd); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	details := map[string]any{
		"from":    user.Subscription,
		"to":      target.Plan,
		"source":  "webhook",
		"eventID": ev.EventID,
		"status":  ev.Subscription.Status,
	}
	s.appendAudit(ctx, domain.NewAuditLog(user.ID, domain.AuditPlanChanged, details, now))
	_ = publishEvent(ctx, s.publisher, s.log, domain.NewEvent(domain.EventPlanChanged, user.ID, details, now))

	if user.Subscription == domain.PlanTrial && target.Plan.IsPaid() {
		s.metrics.IncTrialTransition("converted")
		s.appendAudit(ctx, domain.NewAuditLog(user.ID, domain.AuditTrialConverted, map[string]any{"plan": target.Plan}, now))
		_ = publishEvent(ctx, s.publisher, s.log, domain.NewEvent(domain.EventTrialConverted, user.ID, map[string]any{
			"plan": target.Plan,
		}, now))
	}

	s.log.Infow("Plan updated from billing event",
		"userID", user.ID, "from", user.Subscription, "to", target.Plan, "paidUntil", target.PaidUntil, "eventType", ev.Type)
	return nil
}

// EndPaidPeriods переводит на free отмененные подписки, у которых закончился оплаченный период.
// Повторный запуск ничего не меняет.
func (s *BillingSync) EndPaidPeriods(ctx context.Context) ([]domain.User, error) {
	now := s.clock.Now()
	ended, err := s.users.EndPaidPeriods(ctx, now)
	if err != nil {
		s.log.Errorw("Failed to end paid periods", "error", err)
		return nil, fmt.Errorf("end paid periods: %w", err)
	}

	for _, u := range ended {
		_ = publishEvent(ctx, s.publisher, s.log, domain.NewEvent(domain.EventPlanChanged, u.ID, map[string]any{
			"from":      u.Subscription,
			"to":        domain.PlanFree,
			"source":    "period_end",
			"paidUntil": u.PaidUntil,
		}, now))
	}
	s.log.Infow("Ended paid periods processed", "count", len(ended))
	return ended, nil
}

func (s *BillingSync) findUser(ctx context.Context, ev *stripe.SubscriptionEvent) (*domain.User, error) {
	customerID := ev.Subscription.CustomerID
	user, err := s.users.GetByStripeCustomerID(ctx, customerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find user by customer: %w", err)
	}
	if ev.UserID == "" {
		return nil, nil
	}

	if err := s.users.LinkStripeCustomer(ctx, ev.UserID, customerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, domain.ErrDuplicate) {
			s.log.Warnw("Stripe customer already linked to another user",
				"eventID", ev.EventID, "userID", ev.UserID, "customerID", customerID)
			return nil, nil
		}
		return nil, fmt.Errorf("link stripe customer: %w", err)
	}
	return s.users.GetByID(ctx, ev.UserID)
}

func (s *BillingSync) isStaleDowngrade(user *domain.User, subscriptionID string, target planTarget) bool {
	if user.StripeSubscriptionID == nil || *user.StripeSubscriptionID == "" {
		return false
	}
	return *user.StripeSubscriptionID != subscriptionID && target.Plan.Rank() < user.Subscription.Rank()
}

func (s *BillingSync) appendAudit(ctx context.Context, entry domain.AuditLog) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warnw("Failed to write audit entry", "userID", entry.UserID, "action", entry.Action, "error", err)
	}
}
