package kg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioA() KnowledgeGraph {
	return mergeText("Alice met Bob", 100, NewKnowledgeGraph())
}

func TestReconcile_ScenarioC(t *testing.T) {
	fused := Reconcile("bob", scenarioA(), 5)

	assert.Equal(t, []string{"bob"}, fused.Seeds)
	require.Len(t, fused.Entities, 2)
	ids := []string{fused.Entities[0].ID, fused.Entities[1].ID}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
	require.Len(t, fused.Relations, 1)
	assert.InDelta(t, 0.6, fused.Score, 1e-9)
}

func TestReconcile_ScenarioD_NoMatch(t *testing.T) {
	fused := Reconcile("xyz", scenarioA(), 5)

	assert.Empty(t, fused.Entities)
	assert.Empty(t, fused.Relations)
	assert.NotNil(t, fused.Entities)
	assert.NotNil(t, fused.Relations)
	assert.Equal(t, 0.2, fused.Score)
}

func TestReconcile_ScenarioE_EmptyGraph(t *testing.T) {
	for _, g := range []KnowledgeGraph{NewKnowledgeGraph(), {}} {
		fused := Reconcile("anything", g, 5)
		assert.Empty(t, fused.Entities)
		assert.Empty(t, fused.Relations)
		assert.Equal(t, 0.0, fused.Score)
	}
}

func TestReconcile_ShortTokensIgnored(t *testing.T) {
	// "al" and "bo" are too short to seed anything
	fused := Reconcile("al bo", scenarioA(), 5)
	assert.Equal(t, 0.2, fused.Score)
}

func TestReconcile_SubstringMatchesIDAndCanonical(t *testing.T) {
	g := mergeText("The Data Engine feeds Reports", 1, NewKnowledgeGraph())

	// "engines" does not match, "engine" does
	assert.Equal(t, 0.2, Reconcile("engines?", g, 5).Score)

	fused := Reconcile("data_engine", g, 5)
	assert.Equal(t, []string{"the_data_engine"}, fused.Seeds)

	fused = Reconcile("REPORT!", g, 5)
	assert.Equal(t, []string{"reports"}, fused.Seeds)
}

func TestReconcile_SeedWithoutRelations(t *testing.T) {
	g := mergeText("Alice waved", 1, NewKnowledgeGraph())

	fused := Reconcile("alice", g, 5)

	// a seed with no relations contributes no neighbors
	assert.Empty(t, fused.Entities)
	assert.Empty(t, fused.Relations)
	assert.InDelta(t, 0.6, fused.Score, 1e-9)
}

func TestReconcile_RankedByRecencyAndTruncated(t *testing.T) {
	g := mergeText("Alice met Bob", 1, NewKnowledgeGraph())
	g = mergeText("Alice met Carol", 2, g)
	g = mergeText("Alice met Dave", 3, g)
	g = mergeText("Erin met Frank", 4, g)

	fused := Reconcile("alice", g, 2)

	require.Len(t, fused.Entities, 2)
	assert.Equal(t, "alice", fused.Entities[0].ID)
	assert.Equal(t, "dave", fused.Entities[1].ID)

	// relations keep insertion order, truncation is a plain cap
	require.Len(t, fused.Relations, 2)
	assert.True(t, fused.Relations[0].Connects("alice", "bob"))
	assert.True(t, fused.Relations[1].Connects("alice", "carol"))
}

func TestReconcile_ScoreSaturates(t *testing.T) {
	fused := Reconcile("alice bob", scenarioA(), 10)
	assert.Len(t, fused.Seeds, 2)
	assert.InDelta(t, 0.8, fused.Score, 1e-9)

	g := mergeText("Apple met Apricot, Applesauce and Appleton", 1, NewKnowledgeGraph())
	fused = Reconcile("apple apr", g, 10)
	// apple, applesauce, appleton, apricot
	assert.Len(t, fused.Seeds, 4)
	assert.Equal(t, 1.0, fused.Score)
}

func TestReconcile_NonPositiveLimitUsesDefault(t *testing.T) {
	g := NewKnowledgeGraph()
	g = mergeText("Hub met One, Two, Three, Four, Five and Six", 1, g)

	fused := Reconcile("hub", g, 0)
	assert.Len(t, fused.Entities, DefaultLimit)
	assert.Len(t, fused.Relations, DefaultLimit)
}

func TestReconciler_WeightOrder(t *testing.T) {
	g := mergeText("Alice met Bob", 1, NewKnowledgeGraph())
	g = mergeText("Alice met Carol", 2, g)
	g = mergeText("Alice met Carol", 3, g)

	insertion := NewReconciler(RelationOrderInsertion).Reconcile("alice", g, 1)
	require.Len(t, insertion.Relations, 1)
	assert.True(t, insertion.Relations[0].Connects("alice", "bob"))

	ranked := NewReconciler(RelationOrderWeight).Reconcile("alice", g, 1)
	require.Len(t, ranked.Relations, 1)
	assert.True(t, ranked.Relations[0].Connects("alice", "carol"))
}

func TestReconcile_DoesNotReorderGraph(t *testing.T) {
	g := mergeText("Alice met Bob", 1, NewKnowledgeGraph())
	g = mergeText("Alice met Carol", 2, g)
	g = mergeText("Alice met Carol", 3, g)
	before := g.Clone()

	NewReconciler(RelationOrderWeight).Reconcile("alice", g, 5)

	assert.Equal(t, before, g)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"who", "alice", "data_engine"}, Tokenize("Who is Alice? data_engine, ok"))
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("a an to"))
}

func TestParseRelationOrder(t *testing.T) {
	assert.Equal(t, RelationOrderWeight, ParseRelationOrder(" Weight "))
	assert.Equal(t, RelationOrderInsertion, ParseRelationOrder("insertion"))
	assert.Equal(t, RelationOrderInsertion, ParseRelationOrder("bogus"))
	assert.Equal(t, "weight", RelationOrderWeight.String())
}
