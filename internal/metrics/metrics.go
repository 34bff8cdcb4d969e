// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests by route pattern, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// RecruitmentPassesTotal counts dispatcher passes by how they ended.
	RecruitmentPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recruitment_passes_total",
			Help: "Total number of recruitment passes, by outcome.",
		},
		[]string{"outcome"}, // offered, no_candidate, assigned, missing, error
	)

	// OffersSentTotal counts offers delivered to the messaging channel.
	OffersSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offers_sent_total",
			Help: "Total number of task offers sent to workers.",
		},
	)

	// TaskClaimsTotal counts assignment attempts; result is won or lost.
	TaskClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_claims_total",
			Help: "Total number of task claim attempts, by result.",
		},
		[]string{"result"},
	)

	// TaskCompletionsTotal counts completion attempts; result is completed or rejected.
	TaskCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_completions_total",
			Help: "Total number of task completion attempts, by result.",
		},
		[]string{"result"},
	)

	// QueueItemsProcessedTotal counts delayed-queue items handled by the runner.
	QueueItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_items_processed_total",
			Help: "Total number of delayed queue items processed, by route and status.",
		},
		[]string{"route", "status"},
	)

	// IsLeader reports whether this node currently drains the delayed queue.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
