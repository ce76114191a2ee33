package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotifyMetrics records notification dispatch outcomes.
type NotifyMetrics struct {
	outcomes   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// NewNotifyMetrics registers the notification metrics on the provided registerer.
func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	if reg == nil {
		return &NotifyMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_outcomes",
		Help: "Notification work items by outcome.",
	}, []string{"outcome"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_deliveries",
		Help: "Per-recipient delivery attempts by channel and status.",
	}, []string{"channel", "status"})
	reg.MustRegister(outcomes, deliveries)
	return &NotifyMetrics{outcomes: outcomes, deliveries: deliveries}
}

// IncOutcome increments the outcome counter.
func (n *NotifyMetrics) IncOutcome(outcome string) {
	if n == nil || n.outcomes == nil {
		return
	}
	n.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDelivery increments the per-recipient delivery counter.
func (n *NotifyMetrics) IncDelivery(channel, status string) {
	if n == nil || n.deliveries == nil {
		return
	}
	n.deliveries.WithLabelValues(normalizeLabel(channel), normalizeLabel(status)).Inc()
}
