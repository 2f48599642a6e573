package kg

import (
	"math"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	noSeedScore   = 0.2
	scorePerSeed  = 0.2
	baseSeedScore = 0.4
	minTokenLen   = 3
)

var nonWord = regexp.MustCompile(`\W+`)

// RelationOrder controls how the one-hop relations are ordered before truncation
type RelationOrder int

const (
	// RelationOrderInsertion keeps graph insertion order
	RelationOrderInsertion RelationOrder = iota
	// RelationOrderWeight ranks by weight, strongest first; ties keep insertion order
	RelationOrderWeight
)

// String implements fmt.Stringer
func (o RelationOrder) String() string {
	if o == RelationOrderWeight {
		return "weight"
	}
	return "insertion"
}

// ParseRelationOrder maps a config value to a RelationOrder; unknown values mean insertion order
func ParseRelationOrder(s string) RelationOrder {
	if strings.EqualFold(strings.TrimSpace(s), "weight") {
		return RelationOrderWeight
	}
	return RelationOrderInsertion
}

// Reconciler answers "what is relevant to this query" against a graph snapshot.
// It holds no graph state and is safe for concurrent use.
type Reconciler struct {
	order RelationOrder
}

// NewReconciler creates a reconciler with the given relation ordering
func NewReconciler(order RelationOrder) *Reconciler {
	return &Reconciler{order: order}
}

// Reconcile runs the default reconciler, which keeps relations in insertion order
func Reconcile(query string, g KnowledgeGraph, limit int) FusedContext {
	return NewReconciler(RelationOrderInsertion).Reconcile(query, g, limit)
}

// Reconcile matches seeds, expands them one hop and ranks the neighborhood by recency.
// A non-positive limit means DefaultLimit.
func (r *Reconciler) Reconcile(query string, g KnowledgeGraph, limit int) FusedContext {
	if g.IsEmpty() {
		return emptyContext(0)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	seeds := findSeeds(Tokenize(query), g)
	if seeds.Cardinality() == 0 {
		return emptyContext(noSeedScore)
	}

	// One hop out from every seed
	relations := make([]Relation, 0)
	neighbors := mapset.NewThreadUnsafeSet[string]()
	for _, rel := range g.Relations {
		if seeds.Contains(rel.SourceID) || seeds.Contains(rel.TargetID) {
			relations = append(relations, rel)
			neighbors.Add(rel.SourceID)
			neighbors.Add(rel.TargetID)
		}
	}

	entities := make([]Entity, 0, neighbors.Cardinality())
	for id := range neighbors.Iter() {
		if e, ok := g.Entities[id]; ok {
			entities = append(entities, e)
		}
	}
	sort.Slice(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.LastMentioned != b.LastMentioned {
			return a.LastMentioned > b.LastMentioned
		}
		if a.FirstMentioned != b.FirstMentioned {
			return a.FirstMentioned < b.FirstMentioned
		}
		return a.ID < b.ID
	})

	if r.order == RelationOrderWeight {
		sort.SliceStable(relations, func(i, j int) bool {
			return relations[i].Weight > relations[j].Weight
		})
	}

	seedIDs := seeds.ToSlice()
	sort.Strings(seedIDs)

	return FusedContext{
		Entities:  truncate(entities, limit),
		Relations: truncate(relations, limit),
		Score:     math.Min(1, scorePerSeed*float64(len(seedIDs))+baseSeedScore),
		Seeds:     seedIDs,
	}
}

// Tokenize lowercases the query, splits it on non-word characters and drops tokens shorter than three characters
func Tokenize(query string) []string {
	var tokens []string
	for _, tok := range nonWord.Split(strings.ToLower(query), -1) {
		if len(tok) >= minTokenLen {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// findSeeds matches tokens as substrings of each entity's lowercased canonical form or id
func findSeeds(tokens []string, g KnowledgeGraph) mapset.Set[string] {
	seeds := mapset.NewThreadUnsafeSet[string]()
	if len(tokens) == 0 {
		return seeds
	}
	for id, e := range g.Entities {
		canonical := strings.ToLower(e.Canonical)
		for _, tok := range tokens {
			if strings.Contains(canonical, tok) || strings.Contains(id, tok) {
				seeds.Add(id)
				break
			}
		}
	}
	return seeds
}

func truncate[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
