package metrics

import (
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EntitlementMetrics интерфейс для метрик доступа и сканов
type EntitlementMetrics interface {
	ObserveDecision(action domain.Action, allowed bool, reason domain.DenialReason)
	IncInfraError(action domain.Action)
	ObserveScan(status domain.ScanStatus, duration time.Duration)
	IncTrialTransition(transition string)
	IncReconcile(outcome string)
}

type entitlementMetrics struct {
	log           *logger.Logger
	decisions     *prometheus.CounterVec
	infraErrors   *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	trialChanges  *prometheus.CounterVec
	reconcileRuns *prometheus.CounterVec
}

// NewEntitlementMetrics создает метрики доступа
func NewEntitlementMetrics(registry *prometheus.Registry, log *logger.Logger) EntitlementMetrics {
	factory := promauto.With(registry)

	return &entitlementMetrics{
		log: log,
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_decisions_total",
				Help: "Entitlement decisions by action and outcome",
			},
			[]string{"action", "outcome", "reason"},
		),
		infraErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_infra_errors_total",
				Help: "Storage failures during entitlement evaluation",
			},
			[]string{"action"},
		),
		scanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scan_duration_seconds",
				Help:    "Scanner run time",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"status"},
		),
		trialChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trial_transitions_total",
				Help: "Trial state machine transitions",
			},
			[]string{"transition"},
		),
		reconcileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_reconcile_total",
				Help: "Billing reconciliation results per user",
			},
			[]string{"outcome"},
		),
	}
}

func (m *entitlementMetrics) ObserveDecision(action domain.Action, allowed bool, reason domain.DenialReason) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisions.WithLabelValues(string(action), outcome, string(reason)).Inc()
}

func (m *entitlementMetrics) IncInfraError(action domain.Action) {
	m.infraErrors.WithLabelValues(string(action)).Inc()
}

func (m *entitlementMetrics) ObserveScan(status domain.ScanStatus, duration time.Duration) {
	m.scanDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func (m *entitlementMetrics) IncTrialTransition(transition string) {
	m.trialChanges.WithLabelValues(transition).Inc()
}

func (m *entitlementMetrics) IncReconcile(outcome string) {
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

// NewNopEntitlementMetrics метрики на отдельном реестре, для тестов и CLI
func NewNopEntitlementMetrics() EntitlementMetrics {
	return NewEntitlementMetrics(prometheus.NewRegistry(), logger.NewNop())
}
