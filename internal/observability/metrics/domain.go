package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// DomainMetrics counts business events. It satisfies ports.MetricsObserver.
type DomainMetrics struct {
	documentsCreated     prometheus.Counter
	versionsAdded        prometheus.Counter
	versionConflicts     prometheus.Counter
	completionsRecorded  *prometheus.CounterVec
	completionRejections *prometheus.CounterVec
	licenseOperations    *prometheus.CounterVec
	mailDeliveries       *prometheus.CounterVec
	breakerState         *prometheus.GaugeVec
}

func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	m := &DomainMetrics{
		documentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_created_total",
			Help:      "Documents created.",
		}),
		versionsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_added_total",
			Help:      "Versions appended to existing documents.",
		}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Version appends rejected because of a concurrent writer.",
		}),
		completionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_recorded_total",
			Help:      "Reading sessions recorded.",
		}, []string{"acknowledged"}),
		completionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_rejections_total",
			Help:      "Completions refused, by reason.",
		}, []string{"reason"}),
		licenseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_operations_total",
			Help:      "Seat license operations by outcome.",
		}, []string{"op", "result"}),
		mailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_deliveries_total",
			Help:      "Per-recipient mail attempts by template and result.",
		}, []string{"template", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "1 for the current state of each outbound circuit breaker.",
		}, []string{"operation", "state"}),
	}
	reg.MustRegister(
		m.documentsCreated,
		m.versionsAdded,
		m.versionConflicts,
		m.completionsRecorded,
		m.completionRejections,
		m.licenseOperations,
		m.mailDeliveries,
		m.breakerState,
	)
	return m
}

func (m *DomainMetrics) ObserveDocumentCreated() {
	m.documentsCreated.Inc()
}

func (m *DomainMetrics) ObserveVersionAdded() {
	m.versionsAdded.Inc()
}

func (m *DomainMetrics) ObserveVersionConflict() {
	m.versionConflicts.Inc()
}

func (m *DomainMetrics) ObserveCompletion(acknowledged bool) {
	label := "false"
	if acknowledged {
		label = "true"
	}
	m.completionsRecorded.WithLabelValues(label).Inc()
}

func (m *DomainMetrics) ObserveCompletionRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.completionRejections.WithLabelValues(reason).Inc()
}

func (m *DomainMetrics) ObserveLicense(op string, err error) {
	result := "ok"
	if err != nil {
		result = domain.KindCode(err)
	}
	m.licenseOperations.WithLabelValues(op, result).Inc()
}

func (m *DomainMetrics) ObserveMail(template domain.MailTemplate, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.mailDeliveries.WithLabelValues(string(template), result).Inc()
}

var breakerStates = []string{"closed", "half-open", "open"}

// ObserveBreakerState has the resilience.StateObserver signature.
func (m *DomainMetrics) ObserveBreakerState(operation, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.breakerState.WithLabelValues(operation, s).Set(v)
	}
}
