package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecraft_requests_total",
		Help: "Grid requests by operation and result",
	}, []string{"op", "result"})

	effectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecraft_effects_published_total",
		Help: "Published effects by kind",
	}, []string{"kind"})

	patternsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecraft_patterns_executed_total",
		Help: "Executed patterns by pattern kind and executor",
	}, []string{"pattern", "executor"})

	patternsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecraft_patterns_rejected_total",
		Help: "Candidates excluded at resolution as configuration errors",
	}, []string{"pattern"})

	chainSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilecraft_chain_steps",
		Help:    "Resolved passes per request",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
	})

	chainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilecraft_chain_duration_seconds",
		Help:    "Time to apply a request and settle the board",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
	})

	chainsTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecraft_chains_truncated_total",
		Help: "Chains stopped by the depth guard",
	})

	faultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecraft_consistency_faults_total",
		Help: "Grid consistency failures",
	})

	subscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecraft_subscriber_drops_total",
		Help: "Effects dropped because a subscriber was full",
	})
)
