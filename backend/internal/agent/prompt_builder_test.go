package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kgchat/backend/internal/kg"
)

func TestBuildSystemPrompt_Empty(t *testing.T) {
	prompt := buildSystemPrompt(kg.FusedContext{Score: 0.2})

	assert.Contains(t, prompt, basePrompt)
	assert.Contains(t, prompt, "No stored knowledge matched this message.")
	assert.NotContains(t, prompt, "Confidence")
}

func TestBuildSystemPrompt_WithContext(t *testing.T) {
	fused := kg.FusedContext{
		Entities: []kg.Entity{
			{ID: "alice", Canonical: "Alice", Type: "Person", Version: 3},
		},
		Relations: []kg.Relation{
			{SourceID: "alice", TargetID: "bob", Predicate: kg.DefaultPredicate, Weight: 0.75, Mentions: 2},
		},
		Score: 0.6,
	}

	prompt := buildSystemPrompt(fused)

	assert.Contains(t, prompt, "Confidence: 0.60")
	assert.Contains(t, prompt, "- Alice (Person, mentioned 3 times)")
	// bob was cut from the entity list, so its id is shown
	assert.Contains(t, prompt, "- Alice associated with bob (weight 0.75, seen together 2 times)")
}
