package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Market reads
	ReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_reads_total",
			Help: "Total number of pair read calls",
		},
		[]string{"call", "status"},
	)

	StaleViews = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapdesk_stale_views_total",
		Help: "Total number of refreshes that fell back to the last good view",
	})

	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_quotes_total",
			Help: "Total number of locally computed quotes",
		},
		[]string{"status"},
	)

	// Pipelines
	PipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_pipelines_total",
			Help: "Total number of finished pipelines",
		},
		[]string{"action", "status"},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_pipeline_steps_total",
			Help: "Total number of pipeline steps by outcome",
		},
		[]string{"action", "kind", "status"},
	)

	ConfirmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapdesk_confirm_duration_seconds",
			Help:    "Time from submission to inclusion for pipeline steps",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"kind"},
	)

	// Session
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_session_events_total",
			Help: "Total number of wallet events handled by the session manager",
		},
		[]string{"event"},
	)

	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swapdesk_session_connected",
		Help: "1 while a wallet session is connected",
	})
)
