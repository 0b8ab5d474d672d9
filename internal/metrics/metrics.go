package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "skyrelay"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_cycles_total",
			Help:      "Count of ingestion cycles by outcome.",
		},
		[]string{"outcome"},
	)
	itemsFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_items_fetched_total",
			Help:      "Count of feed items returned by the feed source.",
		},
	)
	itemsFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_items_filtered_total",
			Help:      "Count of feed items not dispatched, by reason.",
		},
		[]string{"reason"},
	)
	sessionsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_dispatched_total",
			Help:      "Count of interactive cards sent to the chat.",
		},
	)
	sessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_live",
			Help:      "Number of cards whose controls are still active.",
		},
	)
	sessionActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_actions_total",
			Help:      "Count of card control presses by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
	consecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_consecutive_errors",
			Help:      "Consecutive failed ingestion cycles counted against the error budget.",
		},
	)
	watermarkSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_watermark_seconds",
			Help:      "Unix time up to which feed items have been processed.",
		},
	)
)

var registerMetrics sync.Once

// Register adds every relay collector to reg. Only the first call has effect.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(
			cyclesTotal,
			itemsFetched,
			itemsFiltered,
			sessionsDispatched,
			sessionsLive,
			sessionActions,
			consecutiveErrors,
			watermarkSeconds,
		)
	})
}

func RecordCycle(outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
}

func RecordFetched(n int) {
	itemsFetched.Add(float64(n))
}

func RecordFiltered(reason string) {
	itemsFiltered.WithLabelValues(reason).Inc()
}

func RecordDispatched() {
	sessionsDispatched.Inc()
}

func SetLiveSessions(n int) {
	sessionsLive.Set(float64(n))
}

func RecordAction(action, outcome string) {
	sessionActions.WithLabelValues(action, outcome).Inc()
}

func SetConsecutiveErrors(n int) {
	consecutiveErrors.Set(float64(n))
}

func SetWatermark(unixSeconds float64) {
	watermarkSeconds.Set(unixSeconds)
}
