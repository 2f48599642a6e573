package kg

import (
	"iter"
	"math"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Mention is one extracted surface form with its classification
type Mention struct {
	Surface string
	Type    string
}

// MergeStats summarizes what a single checkpoint changed
type MergeStats struct {
	Mentions         int
	DistinctEntities int
	EntitiesCreated  int
	EntitiesUpdated  int
	RelationsCreated int
	RelationsUpdated int
}

// Pairs is the number of unordered entity pairs the checkpoint produced
func (s MergeStats) Pairs() int {
	return s.RelationsCreated + s.RelationsUpdated
}

// CollectMentions drains an extractor into mentions, using its classification when available
func CollectMentions(x Extractor, text string) []Mention {
	var seq iter.Seq2[string, string]
	if typed, ok := x.(TypedExtractor); ok {
		seq = typed.ExtractTyped(text)
	} else {
		seq = func(yield func(string, string) bool) {
			for surface := range x.Extract(text) {
				if !yield(surface, DefaultEntityType) {
					return
				}
			}
		}
	}

	var mentions []Mention
	for surface, entityType := range seq {
		if entityType == "" {
			entityType = DefaultEntityType
		}
		mentions = append(mentions, Mention{Surface: surface, Type: entityType})
	}
	return mentions
}

// MergeText extracts mentions from text and merges them at timestamp.
// Blank text returns g untouched.
func MergeText(x Extractor, text string, timestamp int64, g KnowledgeGraph) (KnowledgeGraph, MergeStats) {
	if strings.TrimSpace(text) == "" {
		return g, MergeStats{}
	}
	return Merge(CollectMentions(x, text), timestamp, g)
}

// Merge folds one checkpoint's mentions into a copy of g. Every mentioned entity
// is upserted and every unordered pair of distinct entities gets its
// co-occurrence relation created or reinforced. g itself is never modified.
func Merge(mentions []Mention, timestamp int64, g KnowledgeGraph) (KnowledgeGraph, MergeStats) {
	stats := MergeStats{Mentions: len(mentions)}
	if len(mentions) == 0 {
		return g, stats
	}

	out := g.Clone()
	seen := mapset.NewThreadUnsafeSet[string]()
	ids := make([]string, 0, len(mentions))

	for _, m := range mentions {
		id := EntityID(m.Surface)
		if id == "" {
			continue
		}
		if seen.Add(id) {
			ids = append(ids, id)
		}

		if existing, ok := out.Entities[id]; ok {
			existing.LastMentioned = timestamp
			existing.Version++
			out.Entities[id] = existing
			stats.EntitiesUpdated++
			continue
		}

		out.Entities[id] = Entity{
			ID:             id,
			Canonical:      m.Surface,
			Type:           m.Type,
			Version:        1,
			FirstMentioned: timestamp,
			LastMentioned:  timestamp,
		}
		stats.EntitiesCreated++
	}
	stats.DistinctEntities = len(ids)

	index := relationIndex(out.Relations)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			key := pairKey(ids[i], ids[j])
			if at, ok := index[key]; ok {
				out.Relations[at] = reinforce(out.Relations[at])
				stats.RelationsUpdated++
				continue
			}

			index[key] = len(out.Relations)
			out.Relations = append(out.Relations, Relation{
				SourceID:  ids[i],
				TargetID:  ids[j],
				Predicate: DefaultPredicate,
				Weight:    InitialWeight,
				Mentions:  1,
			})
			stats.RelationsCreated++
		}
	}

	return out, stats
}

// reinforce records one more co-occurrence: the weight becomes the running
// average of per-checkpoint observations, which are always 1 here
func reinforce(r Relation) Relation {
	prior := float64(r.Mentions)
	if prior < 0 {
		prior = 0
	}
	r.Weight = clampWeight((r.Weight*prior + 1) / (prior + 1))
	r.Mentions++
	return r
}

func clampWeight(w float64) float64 {
	if math.IsNaN(w) {
		return InitialWeight
	}
	return math.Max(0, math.Min(1, w))
}

// pairKey identifies an unordered pair
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// relationIndex maps each unordered pair to the first relation holding it
func relationIndex(relations []Relation) map[string]int {
	index := make(map[string]int, len(relations))
	for i, r := range relations {
		key := pairKey(r.SourceID, r.TargetID)
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}
	return index
}
