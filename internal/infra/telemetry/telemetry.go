package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/genstudio-auth/internal/core/domain"
)

// Namespace prefixes every collector exported by the service.
const Namespace = "genstudio"

// Register registers c with reg, returning the already registered collector
// when an identical one exists.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			var zero T
			return zero, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// CreditMetrics counts ledger outcomes.
type CreditMetrics struct {
	Consumed        *prometheus.CounterVec
	QuotaRejections *prometheus.CounterVec
	PlanAssignments *prometheus.CounterVec
	PlanExpirations prometheus.Counter
}

// NewCreditMetrics registers the credit collectors with reg.
func NewCreditMetrics(reg prometheus.Registerer) (*CreditMetrics, error) {
	consumed, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "credits",
		Name:      "consumed_total",
		Help:      "Metered actions recorded against a ledger, by resource.",
	}, []string{"resource"}))
	if err != nil {
		return nil, err
	}

	rejections, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "credits",
		Name:      "quota_rejections_total",
		Help:      "Consumptions refused because the limit was reached, by resource.",
	}, []string{"resource"}))
	if err != nil {
		return nil, err
	}

	assignments, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "credits",
		Name:      "plan_assignments_total",
		Help:      "Plans assigned to ledgers, by plan id.",
	}, []string{"plan"}))
	if err != nil {
		return nil, err
	}

	expirations, err := Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "credits",
		Name:      "plan_expirations_total",
		Help:      "Plans reverted to baseline limits after expiry.",
	}))
	if err != nil {
		return nil, err
	}

	return &CreditMetrics{
		Consumed:        consumed,
		QuotaRejections: rejections,
		PlanAssignments: assignments,
		PlanExpirations: expirations,
	}, nil
}

func (m *CreditMetrics) CreditConsumed(resource domain.Resource) {
	m.Consumed.WithLabelValues(string(resource)).Inc()
}

func (m *CreditMetrics) QuotaRejected(resource domain.Resource) {
	m.QuotaRejections.WithLabelValues(string(resource)).Inc()
}

func (m *CreditMetrics) PlanAssigned(planID string) {
	m.PlanAssignments.WithLabelValues(planID).Inc()
}

func (m *CreditMetrics) PlanExpired() {
	m.PlanExpirations.Inc()
}
