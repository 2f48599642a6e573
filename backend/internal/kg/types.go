package kg

import (
	"encoding/json"
	"strings"
)

// ============================================================================
// Knowledge Graph Types
// ============================================================================

const (
	// DefaultEntityType is assigned by extractors that do not classify mentions
	DefaultEntityType = "Concept"
	// DefaultPredicate labels co-occurrence relations
	DefaultPredicate = "associated_with"
	// InitialWeight is the neutral prior of a freshly observed relation
	InitialWeight = 0.5
	// DefaultLimit caps the entities and relations returned by a query
	DefaultLimit = 5
)

// Entity is a named concept node in the graph
type Entity struct {
	ID             string `json:"id"`
	Canonical      string `json:"canonical"`
	Type           string `json:"type"`
	Version        int    `json:"version"`
	FirstMentioned int64  `json:"firstMentioned"`
	LastMentioned  int64  `json:"lastMentioned"`
}

// Relation is an unordered, weighted co-occurrence edge between two entities
type Relation struct {
	SourceID  string  `json:"sourceId"`
	TargetID  string  `json:"targetId"`
	Predicate string  `json:"predicate"`
	Weight    float64 `json:"weight"`
	Mentions  int     `json:"mentions"`
}

// Connects reports whether the relation links a and b in either orientation
func (r Relation) Connects(a, b string) bool {
	return (r.SourceID == a && r.TargetID == b) || (r.SourceID == b && r.TargetID == a)
}

// KnowledgeGraph is the value handed back and forth between the engine and its callers.
// Relations keep insertion order and hold at most one entry per unordered pair.
type KnowledgeGraph struct {
	Entities  map[string]Entity `json:"entities"`
	Relations []Relation        `json:"relations"`
}

// NewKnowledgeGraph returns an empty graph
func NewKnowledgeGraph() KnowledgeGraph {
	return KnowledgeGraph{
		Entities:  make(map[string]Entity),
		Relations: []Relation{},
	}
}

// IsEmpty reports whether the graph holds no entities
func (g KnowledgeGraph) IsEmpty() bool {
	return len(g.Entities) == 0
}

// Clone returns a copy that shares no mutable state with g
func (g KnowledgeGraph) Clone() KnowledgeGraph {
	out := KnowledgeGraph{
		Entities:  make(map[string]Entity, len(g.Entities)),
		Relations: make([]Relation, len(g.Relations)),
	}
	for id, e := range g.Entities {
		out.Entities[id] = e
	}
	copy(out.Relations, g.Relations)
	return out
}

// MarshalJSON always emits {} and [] for an empty graph so the persisted shape stays stable
func (g KnowledgeGraph) MarshalJSON() ([]byte, error) {
	type wire KnowledgeGraph
	w := wire(g)
	if w.Entities == nil {
		w.Entities = map[string]Entity{}
	}
	if w.Relations == nil {
		w.Relations = []Relation{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts null members and normalizes them to empty collections
func (g *KnowledgeGraph) UnmarshalJSON(data []byte) error {
	type wire KnowledgeGraph
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Entities == nil {
		w.Entities = map[string]Entity{}
	}
	if w.Relations == nil {
		w.Relations = []Relation{}
	}
	*g = KnowledgeGraph(w)
	return nil
}

// FusedContext is the scored bundle a query returns
type FusedContext struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Score     float64    `json:"score"`

	// Seeds holds the ids matched directly by query tokens
	Seeds []string `json:"-"`
}

func emptyContext(score float64) FusedContext {
	return FusedContext{
		Entities:  []Entity{},
		Relations: []Relation{},
		Score:     score,
	}
}

// EntityID derives the stable key of a surface form: lowercase, whitespace runs collapsed to "_"
func EntityID(surface string) string {
	return strings.Join(strings.Fields(strings.ToLower(surface)), "_")
}
