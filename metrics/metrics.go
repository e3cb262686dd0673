// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "maildigest"

var (
	// ConsumerOutcomes counts queue messages by how the consumer settled them.
	ConsumerOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_messages_total",
			Help:      "Queue messages handled by the consumer, by outcome",
		},
		[]string{"outcome"},
	)

	// ConsumerLatency tracks per-message handling time.
	ConsumerLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consumer_message_duration_seconds",
			Help:      "Time spent handling a single queue message",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	// IngestCount counts inbound mail accepted or refused by the ingester.
	IngestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Inbound messages received, by status",
		},
		[]string{"status"}, // status: enqueued, malformed, failed
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_slow_queries_total",
			Help:      "Queries slower than the configured threshold",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)

	SummaryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Summaries generated, by status",
		},
		[]string{"status"},
	)

	MailSentCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_sent_total",
			Help:      "Summary emails sent, by status",
		},
		[]string{"status"},
	)

	ReindexedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindexed_messages_total",
			Help:      "Stored messages embedded by the reindex sweep",
		},
	)
)

// RecordConsumerOutcome increments the outcome counter and observes latency.
func RecordConsumerOutcome(outcome string, duration time.Duration) {
	ConsumerOutcomes.WithLabelValues(outcome).Inc()
	ConsumerLatency.Observe(duration.Seconds())
}

func IncrementIngest(status string) {
	IngestCount.WithLabelValues(status).Inc()
}

func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

func RecordHTTPRequestDuration(method, route, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func IncrementSummary(status string) {
	SummaryCount.WithLabelValues(status).Inc()
}

func IncrementMailSent(status string) {
	MailSentCount.WithLabelValues(status).Inc()
}

func AddReindexed(n int) {
	ReindexedCount.Add(float64(n))
}
