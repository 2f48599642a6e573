package kg

import (
	"iter"
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"kgchat/backend/pkg/logger"
)

// Extractor turns checkpoint text into candidate entity mentions, in order of
// appearance with duplicates preserved. Implementations must be safe for
// concurrent use and must not fail: unusable text yields an empty sequence.
type Extractor interface {
	Extract(text string) iter.Seq[string]
}

// TypedExtractor is implemented by extractors that also classify each mention.
// The merger uses the type only when it creates an entity.
type TypedExtractor interface {
	Extractor
	ExtractTyped(text string) iter.Seq2[string, string]
}

// capitalizedRun matches one or more capitalized words joined by single spaces
var capitalizedRun = regexp.MustCompile(`[A-Z][a-z]+(?: [A-Z][a-z]+)*`)

// RegexExtractor is the placeholder heuristic: every run of capitalized words is a mention
type RegexExtractor struct {
	pattern *regexp.Regexp
}

// NewRegexExtractor creates the default capitalized-run extractor
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{pattern: capitalizedRun}
}

// Extract scans text lazily; matching stops as soon as the consumer stops pulling
func (x *RegexExtractor) Extract(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		rest := text
		for {
			loc := x.pattern.FindStringIndex(rest)
			if loc == nil {
				return
			}
			if !yield(rest[loc[0]:loc[1]]) {
				return
			}
			rest = rest[loc[1]:]
		}
	}
}

// ============================================================================
// prose-backed extractor
// ============================================================================

// proseLabels maps prose NER labels to entity types
var proseLabels = map[string]string{
	"PERSON": "Person",
	"GPE":    "Place",
}

// ProseExtractor uses the prose NER model. Mentions the model misses are not
// recovered, so it trades recall on unusual names for fewer false positives on
// sentence-initial words.
type ProseExtractor struct {
	logger *zap.Logger
}

// NewProseExtractor creates a prose-backed extractor
func NewProseExtractor() *ProseExtractor {
	return &ProseExtractor{logger: logger.Get()}
}

// Extract implements Extractor
func (x *ProseExtractor) Extract(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for surface := range x.ExtractTyped(text) {
			if !yield(surface) {
				return
			}
		}
	}
}

// ExtractTyped implements TypedExtractor
func (x *ProseExtractor) ExtractTyped(text string) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}

		doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
		if err != nil {
			x.logger.Warn("prose extraction failed, yielding no mentions",
				zap.Int("text_length", len(text)),
				zap.Error(err),
			)
			return
		}

		for _, ent := range doc.Entities() {
			surface := strings.Join(strings.Fields(ent.Text), " ")
			if surface == "" {
				continue
			}
			entityType, ok := proseLabels[ent.Label]
			if !ok {
				entityType = DefaultEntityType
			}
			if !yield(surface, entityType) {
				return
			}
		}
	}
}

// NewExtractor returns the extractor registered under name; unknown names fall back to the regex extractor
func NewExtractor(name string) Extractor {
	switch strings.ToLower(name) {
	case "prose":
		return NewProseExtractor()
	default:
		return NewRegexExtractor()
	}
}
