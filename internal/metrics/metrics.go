package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerSubmitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_hub_ledger_submit_total",
			Help: "Total ledger transaction submissions",
		},
		[]string{"op", "status"},
	)

	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_hub_events_processed_total",
			Help: "Total ledger events consumed by the reconciler",
		},
		[]string{"kind", "status"},
	)

	EventApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escrow_hub_event_apply_duration_seconds",
			Help:    "Duration of mirror writes per ledger event",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
	)

	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_hub_webhook_requests_total",
			Help: "Total payment webhook deliveries",
		},
		[]string{"status"},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_hub_dead_letters_total",
			Help: "Total events parked after exhausting mirror-write retries",
		},
	)

	PollerCursor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "escrow_hub_poller_cursor",
			Help: "Last ledger log index applied by the event poller",
		},
	)

	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "escrow_hub_sse_clients",
			Help: "Connected SSE stream clients",
		},
	)
)
