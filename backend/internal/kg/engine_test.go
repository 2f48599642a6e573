package kg

import (
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedExtractor yields a canned, typed mention list regardless of input
type fixedExtractor struct {
	mentions []Mention
}

func (f fixedExtractor) Extract(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, m := range f.mentions {
			if !yield(m.Surface) {
				return
			}
		}
	}
}

func (f fixedExtractor) ExtractTyped(text string) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, m := range f.mentions {
			if !yield(m.Surface, m.Type) {
				return
			}
		}
	}
}

func counterClock(start int64) func() int64 {
	var mu sync.Mutex
	next := start
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next
	}
}

func TestEngine_IngestAndQuery(t *testing.T) {
	engine := NewEngine(WithClock(counterClock(0)))

	g := engine.Ingest("Alice met Bob", "session-1", NewKnowledgeGraph())
	g = engine.Ingest("Alice met Bob", "session-1", g)

	assert.Equal(t, int64(1), g.Entities["alice"].FirstMentioned)
	assert.Equal(t, int64(2), g.Entities["alice"].LastMentioned)
	assert.InDelta(t, 0.75, g.Relations[0].Weight, 1e-9)

	fused := engine.Query("who is bob", g, 5)
	assert.Len(t, fused.Entities, 2)
	assert.InDelta(t, 0.6, fused.Score, 1e-9)
}

func TestEngine_IngestBlankReturnsSameGraph(t *testing.T) {
	engine := NewEngine()
	g := engine.Ingest("Alice met Bob", "s", NewKnowledgeGraph())

	assert.Equal(t, g, engine.Ingest("  ", "s", g))
}

func TestEngine_TypedExtractor(t *testing.T) {
	engine := NewEngine(WithExtractor(fixedExtractor{mentions: []Mention{
		{Surface: "Ada Lovelace", Type: "Person"},
		{Surface: "London", Type: "Place"},
		{Surface: "Engine", Type: ""},
	}}))

	g, stats := engine.IngestAt("whatever", "s", 10, NewKnowledgeGraph())

	assert.Equal(t, "Person", g.Entities["ada_lovelace"].Type)
	assert.Equal(t, "Place", g.Entities["london"].Type)
	assert.Equal(t, DefaultEntityType, g.Entities["engine"].Type)
	assert.Equal(t, 3, stats.RelationsCreated)
}

func TestEngine_RelationOrderOption(t *testing.T) {
	engine := NewEngine(WithRelationOrder(RelationOrderWeight))

	g, _ := engine.IngestAt("Alice met Bob", "s", 1, NewKnowledgeGraph())
	g, _ = engine.IngestAt("Alice met Carol", "s", 2, g)
	g, _ = engine.IngestAt("Alice met Carol", "s", 3, g)

	fused := engine.Query("alice", g, 1)
	require.Len(t, fused.Relations, 1)
	assert.True(t, fused.Relations[0].Connects("alice", "carol"))
}

func TestEngine_ConcurrentQueriesOnSnapshot(t *testing.T) {
	engine := NewEngine()
	g, _ := engine.IngestAt("Alice met Bob and Carol", "s", 1, NewKnowledgeGraph())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fused := engine.Query("carol", g, 5)
			assert.Len(t, fused.Entities, 3)
		}()
	}

	// a concurrent merge works on its own copy
	next, _ := engine.IngestAt("Dave met Carol", "s", 2, g)
	wg.Wait()

	assert.NotContains(t, g.Entities, "dave")
	assert.Contains(t, next.Entities, "dave")
}
