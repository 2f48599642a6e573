package kg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityID(t *testing.T) {
	tests := map[string]string{
		"Data Engine":    "data_engine",
		"Data  Engine":   "data_engine",
		" Data\tEngine ": "data_engine",
		"Alice":          "alice",
		"":               "",
	}
	for surface, want := range tests {
		assert.Equal(t, want, EntityID(surface), "surface %q", surface)
	}
}

func TestKnowledgeGraph_EmptyShape(t *testing.T) {
	for _, g := range []KnowledgeGraph{{}, NewKnowledgeGraph()} {
		data, err := json.Marshal(g)
		require.NoError(t, err)
		assert.JSONEq(t, `{"entities":{},"relations":[]}`, string(data))
	}
}

func TestKnowledgeGraph_RoundTrip(t *testing.T) {
	g := mergeText("Alice met Bob", 1700000000000, NewKnowledgeGraph())

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"entities": {
			"alice": {"id":"alice","canonical":"Alice","type":"Concept","version":1,"firstMentioned":1700000000000,"lastMentioned":1700000000000},
			"bob":   {"id":"bob","canonical":"Bob","type":"Concept","version":1,"firstMentioned":1700000000000,"lastMentioned":1700000000000}
		},
		"relations": [
			{"sourceId":"alice","targetId":"bob","predicate":"associated_with","weight":0.5,"mentions":1}
		]
	}`, string(data))

	var back KnowledgeGraph
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, g, back)
}

func TestKnowledgeGraph_UnmarshalNulls(t *testing.T) {
	var g KnowledgeGraph
	require.NoError(t, json.Unmarshal([]byte(`{"entities":null,"relations":null}`), &g))
	assert.NotNil(t, g.Entities)
	assert.NotNil(t, g.Relations)
	assert.True(t, g.IsEmpty())
}

func TestFusedContext_JSONOmitsSeeds(t *testing.T) {
	data, err := json.Marshal(Reconcile("bob", scenarioA(), 5))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 3)
	assert.Contains(t, decoded, "entities")
	assert.Contains(t, decoded, "relations")
	assert.Contains(t, decoded, "score")
}

func TestClone_Independent(t *testing.T) {
	g := scenarioA()
	c := g.Clone()

	c.Entities["carol"] = Entity{ID: "carol"}
	c.Relations[0].Mentions = 42

	assert.NotContains(t, g.Entities, "carol")
	assert.Equal(t, 1, g.Relations[0].Mentions)
}
