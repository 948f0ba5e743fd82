package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the conversation pipeline.
type EngineMetrics struct {
	messagesTotal    *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	processingTime   *prometheus.HistogramVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohost",
			Subsystem: "engine",
			Name:      "messages_total",
			Help:      "Inbound guest messages by platform and outcome",
		}, []string{"platform", "outcome"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohost",
			Subsystem: "engine",
			Name:      "escalations_total",
			Help:      "Escalations to a human by severity and reason",
		}, []string{"severity", "reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohost",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohost",
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Outbound deliveries by platform and status",
		}, []string{"platform", "status"}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cohost",
			Subsystem: "engine",
			Name:      "processing_seconds",
			Help:      "End-to-end handling latency per inbound message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.escalationsTotal, m.cacheLookups, m.dispatchTotal, m.processingTime)
	return m
}

func (m *EngineMetrics) ObserveMessage(platform, outcome string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(platform, outcome).Inc()
}

func (m *EngineMetrics) ObserveEscalation(severity, reason string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(severity, reason).Inc()
}

func (m *EngineMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveDispatch(platform, status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(platform, status).Inc()
}

func (m *EngineMetrics) ObserveProcessing(platform string, seconds float64) {
	if m == nil {
		return
	}
	m.processingTime.WithLabelValues(platform).Observe(seconds)
}
