package metrics

import (
	"time"

	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReconcileMetrics интерфейс для метрик движка сверки
type ReconcileMetrics interface {
	IncEventReceived(eventType string)
	IncEventOutcome(eventType, outcome string)
	IncDuplicate(eventType string)
	IncSignatureFailure()
	IncVersionConflict()
	IncTransition(from, to string)
	IncEffectDelivered(kind string)
	IncEffectAbandoned(kind string)
	ObserveProcessingDuration(eventType string, d time.Duration)
}

type reconcileMetrics struct {
	log                *logger.Logger
	eventsReceived     *prometheus.CounterVec
	eventOutcomes      *prometheus.CounterVec
	duplicates         *prometheus.CounterVec
	signatureFailures  prometheus.Counter
	versionConflicts   prometheus.Counter
	transitions        *prometheus.CounterVec
	effectsDelivered   *prometheus.CounterVec
	effectsAbandoned   *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
}

// NewReconcileMetrics создает новые метрики сверки
func NewReconcileMetrics(registry *prometheus.Registry, log *logger.Logger) ReconcileMetrics {
	eventsReceived := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "The total number of received webhook events",
		},
		[]string{"type"},
	)

	eventOutcomes := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "The total number of webhook events by processing outcome",
		},
		[]string{"type", "outcome"},
	)

	duplicates := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_duplicates_total",
			Help: "The total number of duplicate webhook deliveries",
		},
		[]string{"type"},
	)

	signatureFailures := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "The total number of rejected webhook signatures",
		},
	)

	versionConflicts := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_version_conflicts_total",
			Help: "The total number of optimistic concurrency conflicts on commit",
		},
	)

	transitions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "The total number of subscription state transitions",
		},
		[]string{"from", "to"},
	)

	effectsDelivered := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "effects_delivered_total",
			Help: "The total number of delivered effects",
		},
		[]string{"kind"},
	)

	effectsAbandoned := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "effects_abandoned_total",
			Help: "The total number of effects abandoned after max attempts",
		},
		[]string{"kind"},
	)

	processingDuration := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Webhook event processing duration distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	return &reconcileMetrics{
		log:                log,
		eventsReceived:     eventsReceived,
		eventOutcomes:      eventOutcomes,
		duplicates:         duplicates,
		signatureFailures:  signatureFailures,
		versionConflicts:   versionConflicts,
		transitions:        transitions,
		effectsDelivered:   effectsDelivered,
		effectsAbandoned:   effectsAbandoned,
		processingDuration: processingDuration,
	}
}

// IncEventReceived увеличивает счетчик полученных событий
func (m *reconcileMetrics) IncEventReceived(eventType string) {
	m.eventsReceived.WithLabelValues(eventType).Inc()
}

// IncEventOutcome увеличивает счетчик событий по исходу обработки
func (m *reconcileMetrics) IncEventOutcome(eventType, outcome string) {
	m.eventOutcomes.WithLabelValues(eventType, outcome).Inc()
}

// IncDuplicate увеличивает счетчик повторных доставок
func (m *reconcileMetrics) IncDuplicate(eventType string) {
	m.duplicates.WithLabelValues(eventType).Inc()
}

// IncSignatureFailure увеличивает счетчик отклоненных подписей
func (m *reconcileMetrics) IncSignatureFailure() {
	m.signatureFailures.Inc()
}

// IncVersionConflict увеличивает счетчик конфликтов версий
func (m *reconcileMetrics) IncVersionConflict() {
	m.versionConflicts.Inc()
}

// IncTransition увеличивает счетчик переходов состояний
func (m *reconcileMetrics) IncTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// IncEffectDelivered увеличивает счетчик доставленных эффектов
func (m *reconcileMetrics) IncEffectDelivered(kind string) {
	m.effectsDelivered.WithLabelValues(kind).Inc()
}

// IncEffectAbandoned увеличивает счетчик брошенных эффектов
func (m *reconcileMetrics) IncEffectAbandoned(kind string) {
	m.effectsAbandoned.WithLabelValues(kind).Inc()
}

// ObserveProcessingDuration записывает длительность обработки события
func (m *reconcileMetrics) ObserveProcessingDuration(eventType string, d time.Duration) {
	m.processingDuration.WithLabelValues(eventType).Observe(d.Seconds())
}
