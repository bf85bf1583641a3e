// Package metrics exports settlement and lifecycle counters to Prometheus.
package metrics

import (
	"net/http"

	"agentdesk/internal/events"
	"agentdesk/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "agentdesk"

type Recorder struct {
	registry      *prometheus.Registry
	submissions   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	ledgerAmount  *prometheus.CounterVec
	ledgerEntries *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	eventsFailed  *prometheus.CounterVec
	fulfillments  *prometheus.CounterVec
	discrepancies prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Service request submissions by service and outcome.",
		}, []string{"service_id", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Request status transitions by target status and outcome.",
		}, []string{"status", "outcome"}),
		ledgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_amount_total",
			Help:      "Sum of ledger entry amounts by transaction type.",
		}, []string{"type"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended by transaction type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Domain events dropped because the buffer was full.",
		}, []string{"type"}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_delivery_failures_total",
			Help:      "Domain event deliveries that failed, by sink.",
		}, []string{"sink", "type"}),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillments_total",
			Help:      "Automated fulfillment attempts by service and outcome.",
		}, []string{"service_id", "outcome"}),
		discrepancies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_discrepancies",
			Help:      "Wallets whose balances disagreed with the ledger at the last reconcile run.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.submissions,
		r.transitions,
		r.ledgerAmount,
		r.ledgerEntries,
		r.eventsDropped,
		r.eventsFailed,
		r.fulfillments,
		r.discrepancies,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) RecordSubmit(serviceID, outcome string) {
	r.submissions.WithLabelValues(serviceID, outcome).Inc()
}

func (r *Recorder) RecordTransition(to models.RequestStatus, outcome string) {
	r.transitions.WithLabelValues(string(to), outcome).Inc()
}

func (r *Recorder) RecordLedger(txType models.TransactionType, amount decimal.Decimal) {
	r.ledgerEntries.WithLabelValues(string(txType)).Inc()
	r.ledgerAmount.WithLabelValues(string(txType)).Add(amount.InexactFloat64())
}

func (r *Recorder) RecordFulfillment(serviceID, outcome string) {
	r.fulfillments.WithLabelValues(serviceID, outcome).Inc()
}

func (r *Recorder) SetDiscrepancies(n int) {
	r.discrepancies.Set(float64(n))
}

func (r *Recorder) EventDropped(t events.Type) {
	r.eventsDropped.WithLabelValues(string(t)).Inc()
}

func (r *Recorder) EventDeliveryFailed(sink string, t events.Type) {
	r.eventsFailed.WithLabelValues(sink, string(t)).Inc()
}
