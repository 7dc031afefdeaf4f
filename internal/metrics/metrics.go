package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query path
var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqrag_queries_total",
			Help: "Answered questions by outcome (answered, fallback, error).",
		},
		[]string{"outcome"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faqrag_query_duration_seconds",
			Help:    "End to end latency of answering a question.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faqrag_stage_duration_seconds",
			Help:    "Latency of each query stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqrag_collaborator_failures_total",
			Help: "Degraded collaborator calls by component.",
		},
		[]string{"component"},
	)

	ExpandedQueries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faqrag_expanded_queries",
			Help:    "Number of queries searched per question.",
			Buckets: []float64{1, 2, 3, 4},
		},
	)
)

// Feedback and learning loop
var (
	FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqrag_feedback_total",
			Help: "Stored feedback records by rating.",
		},
		[]string{"rating"},
	)

	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqrag_training_runs_total",
			Help: "Adaptor training runs by result (published, skipped, failed, cancelled).",
		},
		[]string{"result"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faqrag_training_duration_seconds",
			Help:    "Duration of adaptor training runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	TrainingTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqrag_training_triggers_total",
			Help: "Training trigger attempts by source and whether they started a run.",
		},
		[]string{"source", "started"},
	)

	AdaptorVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faqrag_adaptor_version",
			Help: "Published embedding adaptor version.",
		},
	)
)

// Index
var (
	IndexedChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faqrag_indexed_chunks",
			Help: "Chunks in the active index generation.",
		},
	)

	ReindexTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqrag_reindex_total",
			Help: "Reindex attempts by result.",
		},
		[]string{"result"},
	)
)
