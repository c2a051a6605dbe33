package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/activity-relay/internal/domain"
	"github.com/notifyhub/activity-relay/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	WebhookEvents      *prometheus.CounterVec
	Dispatches         *prometheus.CounterVec
	DispatchLatency    *prometheus.HistogramVec
	CredentialDiscards prometheus.Counter // no refresher is wired; members must re-register
	QueueItems         *prometheus.GaugeVec
	LimiterUsed        *prometheus.GaugeVec
	LimiterLimit       *prometheus.GaugeVec
	LimiterQueue       prometheus.Gauge
	LimiterWait        prometheus.Gauge
	LedgerEntries      prometheus.Gauge
}

// New registers all instruments with the given registerer. A private
// registry keeps tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by object type, aspect type and classifier action.",
		}, []string{"object_type", "aspect_type", "action"}),

		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatches_total",
			Help: "Completed dispatch attempts by terminal outcome.",
		}, []string{"outcome"}),

		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time from timer fire to terminal state, including rate-limit waits.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 60, 300, 900},
		}, []string{"outcome"}),

		CredentialDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_credential_discards_total",
			Help: "Items discarded because the member had no usable credential.",
		}),

		QueueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "delay_queue_items",
			Help: "Entries currently held by the delay queue, by status.",
		}, []string{"status"}),

		LimiterUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limiter_window_used",
			Help: "Upstream calls recorded in each rate window.",
		}, []string{"window"}),
		LimiterLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limiter_window_limit",
			Help: "Configured call budget of each rate window.",
		}, []string{"window"}),
		LimiterQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_limiter_queued_calls",
			Help: "Calls waiting for admission.",
		}),
		LimiterWait: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_limiter_wait_seconds",
			Help: "Current estimate until the next call can be admitted.",
		}),

		LedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_ledger_entries",
			Help: "Items remembered as already relayed or filtered.",
		}),
	}

	reg.MustRegister(
		m.WebhookEvents,
		m.Dispatches,
		m.DispatchLatency,
		m.CredentialDiscards,
		m.QueueItems,
		m.LimiterUsed,
		m.LimiterLimit,
		m.LimiterQueue,
		m.LimiterWait,
		m.LedgerEntries,
	)

	return m
}

// EventHook returns the callback expected by service.NewActivityService.
func (m *Metrics) EventHook() func(domain.ObjectType, domain.AspectType, domain.Action) {
	return func(o domain.ObjectType, a domain.AspectType, action domain.Action) {
		m.WebhookEvents.WithLabelValues(string(o), string(a), string(action)).Inc()
	}
}

// DispatchHook returns the callback expected by worker.NewDispatcher.
func (m *Metrics) DispatchHook() func(domain.DispatchResult, time.Duration) {
	return func(res domain.DispatchResult, latency time.Duration) {
		outcome := string(res.Outcome)
		m.Dispatches.WithLabelValues(outcome).Inc()
		m.DispatchLatency.WithLabelValues(outcome).Observe(latency.Seconds())
		if res.CredentialDiscard() {
			m.CredentialDiscards.Inc()
		}
	}
}

// SnapshotHook returns the callback expected by worker.NewMaintenanceWorker.
func (m *Metrics) SnapshotHook() func(worker.Snapshot) {
	return func(s worker.Snapshot) {
		m.QueueItems.WithLabelValues(string(domain.ItemQueued)).Set(float64(s.Queue.Queued))
		m.QueueItems.WithLabelValues(string(domain.ItemDispatching)).Set(float64(s.Queue.Dispatching))
		for _, w := range s.Limiter.Windows {
			m.LimiterUsed.WithLabelValues(w.Label).Set(float64(w.Used))
			m.LimiterLimit.WithLabelValues(w.Label).Set(float64(w.Limit))
		}
		m.LimiterQueue.Set(float64(s.Limiter.QueueLength))
		m.LimiterWait.Set(s.Limiter.Wait.Seconds())
		m.LedgerEntries.Set(float64(s.LedgerSize))
	}
}
