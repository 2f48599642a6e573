package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	CheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kg_checkpoints_total",
			Help: "Checkpoints submitted for ingestion, by outcome",
		},
		[]string{"outcome"},
	)

	EntityUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kg_entity_upserts_total",
			Help: "Entity upserts performed by the merger",
		},
		[]string{"op"},
	)

	RelationUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kg_relation_upserts_total",
			Help: "Relation upserts performed by the merger",
		},
		[]string{"op"},
	)

	CheckpointMentions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kg_checkpoint_mentions",
		Help:    "Mentions extracted per checkpoint",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kg_queries_total",
			Help: "Fused-context queries, by outcome",
		},
		[]string{"outcome"},
	)

	QueryScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kg_query_score",
		Help:    "Confidence score of fused contexts",
		Buckets: []float64{0, 0.2, 0.4, 0.6, 0.8, 1},
	})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kg_active_sessions",
		Help: "Sessions currently held by the session manager",
	})

	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kg_chat_turns_total",
			Help: "Chat turns processed, by status",
		},
		[]string{"status"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kg_store_errors_total",
			Help: "Session store failures, by backend and operation",
		},
		[]string{"backend", "operation"},
	)
)

// ObserveCheckpoint records the effect of one merge
func ObserveCheckpoint(mentions, entitiesCreated, entitiesUpdated, relationsCreated, relationsUpdated int) {
	if mentions == 0 {
		CheckpointsTotal.WithLabelValues("noop").Inc()
		return
	}
	CheckpointsTotal.WithLabelValues("merged").Inc()
	CheckpointMentions.Observe(float64(mentions))
	EntityUpserts.WithLabelValues("created").Add(float64(entitiesCreated))
	EntityUpserts.WithLabelValues("updated").Add(float64(entitiesUpdated))
	RelationUpserts.WithLabelValues("created").Add(float64(relationsCreated))
	RelationUpserts.WithLabelValues("updated").Add(float64(relationsUpdated))
}

// ObserveQuery records a fused-context result
func ObserveQuery(outcome string, score float64) {
	QueriesTotal.WithLabelValues(outcome).Inc()
	QueryScore.Observe(score)
}
