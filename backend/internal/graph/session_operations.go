package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"kgchat/backend/internal/kg"
	"kgchat/backend/internal/metrics"
	"kgchat/backend/internal/state"
	apperrors "kgchat/backend/pkg/errors"
)

// ============================================================================
// Session Persistence Operations
// ============================================================================

// Load reads a session, its entities and its relations in insertion order
func (r *Repository) Load(ctx context.Context, sessionID string) (state.ChatState, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (s:Session {id: $sessionID})
		OPTIONAL MATCH (s)-[:HAS_ENTITY]->(e:Entity)
		WITH s, collect(e {
			.id, .canonical, .type, .version, .first_mentioned, .last_mentioned
		}) AS entities
		OPTIONAL MATCH (a:Entity {session_id: $sessionID})-[rel:RELATED]->(b:Entity {session_id: $sessionID})
		WITH s, entities, a, rel, b
		ORDER BY rel.ord
		RETURN
			s.model as model,
			s.title as title,
			s.messages as messages,
			s.is_processing as is_processing,
			entities,
			collect(CASE WHEN rel IS NULL THEN NULL ELSE {
				source: a.id,
				target: b.id,
				predicate: rel.predicate,
				weight: rel.weight,
				mentions: rel.mentions
			} END) as relations
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sessionID": sessionID,
	})
	if err != nil {
		return state.ChatState{}, r.failed("load", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return state.ChatState{}, r.failed("load", err)
		}
		return state.ChatState{}, apperrors.NewSessionNotFound(sessionID)
	}
	record := result.Record()

	messages, err := decodeMessages(getStringFromRecord(record, "messages"))
	if err != nil {
		return state.ChatState{}, r.failed("load", err)
	}

	return state.ChatState{
		SessionID:    sessionID,
		Title:        getStringFromRecord(record, "title"),
		Messages:     messages,
		IsProcessing: getBoolFromRecord(record, "is_processing"),
		Model:        getStringFromRecord(record, "model"),
		KG: graphFromRows(
			getMapSliceFromRecord(record, "entities"),
			getMapSliceFromRecord(record, "relations"),
		),
	}, nil
}

// Save replaces the stored session with st in a single write transaction
func (r *Repository) Save(ctx context.Context, st state.ChatState) error {
	messages, err := json.Marshal(st.Messages)
	if err != nil {
		return r.failed("save", fmt.Errorf("encode messages: %w", err))
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]interface{}{
		"sessionID":    st.SessionID,
		"model":        st.Model,
		"title":        st.Title,
		"messages":     string(messages),
		"isProcessing": st.IsProcessing,
		"entities":     entityRows(st.KG),
		"relations":    relationRows(st.KG),
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		upsert := `
			MERGE (s:Session {id: $sessionID})
			ON CREATE SET s.created_at = datetime()
			SET s.model = $model,
			    s.title = $title,
			    s.messages = $messages,
			    s.is_processing = $isProcessing,
			    s.updated_at = datetime()
		`
		if _, err := tx.Run(ctx, upsert, params); err != nil {
			return nil, fmt.Errorf("upsert session: %w", err)
		}

		clearEntities := `
			MATCH (s:Session {id: $sessionID})-[:HAS_ENTITY]->(e:Entity)
			DETACH DELETE e
		`
		if _, err := tx.Run(ctx, clearEntities, params); err != nil {
			return nil, fmt.Errorf("clear entities: %w", err)
		}

		createEntities := `
			MATCH (s:Session {id: $sessionID})
			UNWIND $entities AS ent
			CREATE (s)-[:HAS_ENTITY]->(:Entity {
				session_id: $sessionID,
				id: ent.id,
				canonical: ent.canonical,
				type: ent.type,
				version: ent.version,
				first_mentioned: ent.first_mentioned,
				last_mentioned: ent.last_mentioned
			})
		`
		if _, err := tx.Run(ctx, createEntities, params); err != nil {
			return nil, fmt.Errorf("create entities: %w", err)
		}

		createRelations := `
			UNWIND $relations AS rel
			MATCH (a:Entity {session_id: $sessionID, id: rel.source})
			MATCH (b:Entity {session_id: $sessionID, id: rel.target})
			CREATE (a)-[:RELATED {
				predicate: rel.predicate,
				weight: rel.weight,
				mentions: rel.mentions,
				ord: rel.ord
			}]->(b)
		`
		if _, err := tx.Run(ctx, createRelations, params); err != nil {
			return nil, fmt.Errorf("create relations: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return r.failed("save", err)
	}

	r.logger.Debug("Session saved",
		zap.String("session_id", st.SessionID),
		zap.Int("messages", len(st.Messages)),
		zap.Int("entities", len(st.KG.Entities)),
		zap.Int("relations", len(st.KG.Relations)),
	)
	return nil
}

// Delete removes a session and everything it owns
func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (s:Session {id: $sessionID})
		OPTIONAL MATCH (s)-[:HAS_ENTITY]->(e:Entity)
		DETACH DELETE s, e
	`
	if _, err := session.Run(ctx, query, map[string]interface{}{"sessionID": sessionID}); err != nil {
		return r.failed("delete", err)
	}
	return nil
}

// List returns every session id in ascending order
func (r *Repository) List(ctx context.Context) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Session)
		RETURN s.id AS id
		ORDER BY id
	`, nil)
	if err != nil {
		return nil, r.failed("list", err)
	}

	ids := make([]string, 0)
	for result.Next(ctx) {
		if id := getStringFromRecord(result.Record(), "id"); id != "" {
			ids = append(ids, id)
		}
	}
	if err := result.Err(); err != nil {
		return nil, r.failed("list", err)
	}
	return ids, nil
}

func (r *Repository) failed(operation string, err error) error {
	metrics.StoreErrors.WithLabelValues(r.Backend(), operation).Inc()
	return apperrors.NewStoreOperationFailed(r.Backend(), operation, err)
}

// entityRows flattens entities into UNWIND parameters
func entityRows(g kg.KnowledgeGraph) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(g.Entities))
	for _, e := range g.Entities {
		rows = append(rows, map[string]interface{}{
			"id":              e.ID,
			"canonical":       e.Canonical,
			"type":            e.Type,
			"version":         int64(e.Version),
			"first_mentioned": e.FirstMentioned,
			"last_mentioned":  e.LastMentioned,
		})
	}
	return rows
}

// relationRows flattens relations, recording their position so Load can restore insertion order
func relationRows(g kg.KnowledgeGraph) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(g.Relations))
	for i, rel := range g.Relations {
		rows = append(rows, map[string]interface{}{
			"source":    rel.SourceID,
			"target":    rel.TargetID,
			"predicate": rel.Predicate,
			"weight":    rel.Weight,
			"mentions":  int64(rel.Mentions),
			"ord":       int64(i),
		})
	}
	return rows
}

// graphFromRows rebuilds a graph from collected entity and relation maps
func graphFromRows(entities, relations []map[string]interface{}) kg.KnowledgeGraph {
	g := kg.NewKnowledgeGraph()
	for _, m := range entities {
		id := getStringFromMap(m, "id", "")
		if id == "" {
			continue
		}
		g.Entities[id] = kg.Entity{
			ID:             id,
			Canonical:      getStringFromMap(m, "canonical", id),
			Type:           getStringFromMap(m, "type", kg.DefaultEntityType),
			Version:        int(getInt64FromMap(m, "version", 1)),
			FirstMentioned: getInt64FromMap(m, "first_mentioned", 0),
			LastMentioned:  getInt64FromMap(m, "last_mentioned", 0),
		}
	}
	for _, m := range relations {
		g.Relations = append(g.Relations, kg.Relation{
			SourceID:  getStringFromMap(m, "source", ""),
			TargetID:  getStringFromMap(m, "target", ""),
			Predicate: getStringFromMap(m, "predicate", kg.DefaultPredicate),
			Weight:    getFloat64FromMap(m, "weight", kg.InitialWeight),
			Mentions:  int(getInt64FromMap(m, "mentions", 1)),
		})
	}
	return g
}

func decodeMessages(raw string) ([]state.Message, error) {
	messages := []state.Message{}
	if raw == "" {
		return messages, nil
	}
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if messages == nil {
		messages = []state.Message{}
	}
	return messages, nil
}
