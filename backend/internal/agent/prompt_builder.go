package agent

import (
	"fmt"
	"strings"

	"kgchat/backend/internal/kg"
)

const basePrompt = `You are a helpful assistant in an ongoing conversation.
You keep a knowledge graph of the people, places and concepts mentioned so far.
Use the knowledge below when it is relevant to the user's message. Do not invent facts that are not in it.`

// buildSystemPrompt embeds the fused context for the current message into the system prompt
func buildSystemPrompt(fused kg.FusedContext) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n## Knowledge Graph Context\n")

	if len(fused.Entities) == 0 {
		b.WriteString("No stored knowledge matched this message.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Confidence: %.2f\n", fused.Score)

	names := make(map[string]string, len(fused.Entities))
	b.WriteString("\nEntities (most recently mentioned first):\n")
	for _, e := range fused.Entities {
		names[e.ID] = e.Canonical
		fmt.Fprintf(&b, "- %s (%s, mentioned %d times)\n", e.Canonical, e.Type, e.Version)
	}

	if len(fused.Relations) > 0 {
		b.WriteString("\nRelations:\n")
		for _, r := range fused.Relations {
			fmt.Fprintf(&b, "- %s %s %s (weight %.2f, seen together %d times)\n",
				displayName(names, r.SourceID),
				strings.ReplaceAll(r.Predicate, "_", " "),
				displayName(names, r.TargetID),
				r.Weight,
				r.Mentions,
			)
		}
	}

	return b.String()
}

// displayName prefers the canonical form, falling back to the id for entities cut by the limit
func displayName(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return id
}
