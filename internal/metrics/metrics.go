// Package metrics provides Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedfetcher"

var (
	// DispatchedTotal counts work items pushed to the queue by source.
	DispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Total number of work items enqueued",
		},
		[]string{"source"},
	)

	// RescheduleConflictsTotal counts due feeds skipped because another
	// producer rescheduled them first.
	RescheduleConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedule_conflicts_total",
			Help:      "Total number of lost reschedule compare-and-set operations",
		},
	)

	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Total number of fetch attempts by result",
		},
		[]string{"host", "result"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of single fetch attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// WorkItemsTotal counts work items by terminal outcome.
	WorkItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_items_total",
			Help:      "Total number of processed work items by outcome",
		},
		[]string{"outcome"},
	)

	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Total number of normalized items by store result",
		},
		[]string{"result"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of work items waiting in the queue",
		},
	)
)

func RecordDispatch(source string) {
	DispatchedTotal.WithLabelValues(source).Inc()
}

// RecordFetchAttempt records one HTTP attempt against a publisher host.
func RecordFetchAttempt(host, result string, duration time.Duration) {
	FetchAttemptsTotal.WithLabelValues(host, result).Inc()
	FetchDuration.WithLabelValues(host).Observe(duration.Seconds())
}

func RecordOutcome(outcome string) {
	WorkItemsTotal.WithLabelValues(outcome).Inc()
}

func RecordItems(inserted, duplicates, skipped int) {
	ItemsTotal.WithLabelValues("inserted").Add(float64(inserted))
	ItemsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
	ItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func RecordError(operation string) {
	ErrorsTotal.WithLabelValues(operation).Inc()
}
