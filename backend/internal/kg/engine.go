package kg

import (
	"time"

	"go.uber.org/zap"

	"kgchat/backend/internal/metrics"
	"kgchat/backend/pkg/logger"
)

// DefaultCliqueWarnPairs is the pair count above which a checkpoint is logged as oversized
const DefaultCliqueWarnPairs = 1000

// Engine is the entry point used by the session layer. It carries configuration
// only; every graph it works on is passed in and a new value is handed back.
type Engine struct {
	extractor       Extractor
	reconciler      *Reconciler
	cliqueWarnPairs int
	clock           func() int64
	logger          *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithExtractor replaces the default regex extractor
func WithExtractor(x Extractor) Option {
	return func(e *Engine) {
		if x != nil {
			e.extractor = x
		}
	}
}

// WithRelationOrder selects how query results order relations before truncation
func WithRelationOrder(order RelationOrder) Option {
	return func(e *Engine) {
		e.reconciler = NewReconciler(order)
	}
}

// WithCliqueWarning sets the pair count that triggers an oversized-checkpoint warning
func WithCliqueWarning(pairs int) Option {
	return func(e *Engine) {
		e.cliqueWarnPairs = pairs
	}
}

// WithClock overrides the checkpoint timestamp source (Unix milliseconds)
func WithClock(clock func() int64) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an engine with the regex extractor and insertion-ordered relations
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		extractor:       NewRegexExtractor(),
		reconciler:      NewReconciler(RelationOrderInsertion),
		cliqueWarnPairs: DefaultCliqueWarnPairs,
		clock:           func() int64 { return time.Now().UnixMilli() },
		logger:          logger.Get(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extractor returns the configured extractor
func (e *Engine) Extractor() Extractor {
	return e.extractor
}

// Ingest merges checkpoint text into g at the current time.
// sessionID is only used for logging.
func (e *Engine) Ingest(text, sessionID string, g KnowledgeGraph) KnowledgeGraph {
	out, _ := e.IngestAt(text, sessionID, e.clock(), g)
	return out
}

// IngestAt merges checkpoint text into g at an explicit timestamp
func (e *Engine) IngestAt(text, sessionID string, timestamp int64, g KnowledgeGraph) (KnowledgeGraph, MergeStats) {
	out, stats := MergeText(e.extractor, text, timestamp, g)

	metrics.ObserveCheckpoint(
		stats.Mentions,
		stats.EntitiesCreated,
		stats.EntitiesUpdated,
		stats.RelationsCreated,
		stats.RelationsUpdated,
	)

	if e.cliqueWarnPairs > 0 && stats.Pairs() > e.cliqueWarnPairs {
		e.logger.Warn("Checkpoint produced an oversized co-occurrence clique",
			zap.String("session_id", sessionID),
			zap.Int("distinct_entities", stats.DistinctEntities),
			zap.Int("pairs", stats.Pairs()),
		)
	}

	e.logger.Debug("Checkpoint ingested",
		zap.String("session_id", sessionID),
		zap.Int("mentions", stats.Mentions),
		zap.Int("entities_created", stats.EntitiesCreated),
		zap.Int("entities_updated", stats.EntitiesUpdated),
		zap.Int("relations_created", stats.RelationsCreated),
		zap.Int("relations_updated", stats.RelationsUpdated),
	)

	return out, stats
}

// Query returns the fused context for text. A non-positive limit means DefaultLimit.
func (e *Engine) Query(text string, g KnowledgeGraph, limit int) FusedContext {
	fused := e.reconciler.Reconcile(text, g, limit)

	outcome := "matched"
	switch {
	case g.IsEmpty():
		outcome = "empty_graph"
	case len(fused.Seeds) == 0:
		outcome = "no_seed"
	}
	metrics.ObserveQuery(outcome, fused.Score)

	return fused
}
