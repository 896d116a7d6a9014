// Package metrics exposes the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry setup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	WebhooksReceived  prometheus.Counter
	WebhookErrors     prometheus.Counter
	EventsProcessed   *prometheus.CounterVec
	Transfers         *prometheus.CounterVec
	ReconcileInvoices *prometheus.CounterVec
	Batches           *prometheus.CounterVec
	QueueDepth        prometheus.GaugeFunc
}

// New registers every collector on reg. queueDepth is sampled at scrape time.
func New(reg prometheus.Registerer, queueDepth func() int) *Metrics {
	m := &Metrics{
		WebhooksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_webhooks_received_total",
			Help: "Webhook deliveries accepted and queued.",
		}),
		WebhookErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_webhook_errors_total",
			Help: "Webhook deliveries rejected at the receiver.",
		}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_events_processed_total",
			Help: "Queued deliveries handled by the settlement worker, by result.",
		}, []string{"result"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transfers_total",
			Help: "Net settlement transfers, by result.",
		}, []string{"result"}),
		ReconcileInvoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_reconcile_invoices_total",
			Help: "Paid invoices examined by reconciliation, by outcome.",
		}, []string{"outcome"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_batches_total",
			Help: "Payment request batches issued, by result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "settlement_queue_depth",
			Help: "Deliveries waiting for the settlement worker.",
		}, func() float64 {
			if queueDepth == nil {
				return 0
			}
			return float64(queueDepth())
		}),
	}

	reg.MustRegister(
		m.WebhooksReceived,
		m.WebhookErrors,
		m.EventsProcessed,
		m.Transfers,
		m.ReconcileInvoices,
		m.Batches,
		m.QueueDepth,
	)
	return m
}

func (m *Metrics) WebhookReceived() {
	if m != nil {
		m.WebhooksReceived.Inc()
	}
}

func (m *Metrics) WebhookRejected() {
	if m != nil {
		m.WebhookErrors.Inc()
	}
}

func (m *Metrics) EventProcessed(result string) {
	if m != nil {
		m.EventsProcessed.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Transfer(result string) {
	if m != nil {
		m.Transfers.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ReconcileInvoice(outcome string) {
	if m != nil {
		m.ReconcileInvoices.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Batch(result string) {
	if m != nil {
		m.Batches.WithLabelValues(result).Inc()
	}
}
