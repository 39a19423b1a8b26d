// Package metrics exposes prometheus counters for the billing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Metrics struct {
	reconciliations *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	dispatchRetries prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apploom",
			Subsystem: "billing",
			Name:      "reconciliations_total",
			Help:      "Reconciliation transitions by kind and outcome.",
		}, []string{"transition", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apploom",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook deliveries by result.",
		}, []string{"result"}),
		dispatchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apploom",
			Subsystem: "billing",
			Name:      "dispatch_retries_total",
			Help:      "Webhook events re-attempted after a failed delivery.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.reconciliations, m.webhookEvents, m.dispatchRetries)
	}
	return m
}

func (m *Metrics) RecordReconciliation(transition, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(transition, outcome).Inc()
}

func (m *Metrics) RecordWebhookEvent(result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDispatchRetry() {
	if m == nil {
		return
	}
	m.dispatchRetries.Inc()
}

// Module provides the metrics recorder backed by the default registry.
var Module = fx.Module("observability.metrics",
	fx.Provide(func() *Metrics {
		return New(prometheus.DefaultRegisterer)
	}),
)
