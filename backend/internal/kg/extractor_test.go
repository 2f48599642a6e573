package kg

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	_ Extractor      = (*RegexExtractor)(nil)
	_ TypedExtractor = (*ProseExtractor)(nil)
)

func TestRegexExtractor_Extract(t *testing.T) {
	x := NewRegexExtractor()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: nil},
		{name: "whitespace only", text: "   \n\t ", want: nil},
		{name: "no capitals", text: "nothing to see here", want: nil},
		{name: "two names", text: "Alice met Bob", want: []string{"Alice", "Bob"}},
		{name: "multi word run", text: "we shipped the Data Engine today", want: []string{"Data Engine"}},
		{name: "duplicates preserved", text: "Alice, Bob and Alice again", want: []string{"Alice", "Bob", "Alice"}},
		{name: "double space splits run", text: "Data  Engine", want: []string{"Data", "Engine"}},
		{name: "newline splits run", text: "Data\nEngine", want: []string{"Data", "Engine"}},
		{name: "all caps ignored", text: "the API talks to NASA", want: nil},
		{name: "camel case splits", text: "McDonald", want: []string{"Mc", "Donald"}},
		{name: "sentence start counts", text: "Yesterday Carol Smith called.", want: []string{"Yesterday Carol Smith"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Collect(x.Extract(tt.text))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegexExtractor_ExtractIsLazy(t *testing.T) {
	x := NewRegexExtractor()

	var got []string
	for surface := range x.Extract("Alice met Bob and Carol") {
		got = append(got, surface)
		if len(got) == 2 {
			break
		}
	}

	assert.Equal(t, []string{"Alice", "Bob"}, got)
}

func TestProseExtractor_Blank(t *testing.T) {
	x := NewProseExtractor()
	assert.Empty(t, slices.Collect(x.Extract("  ")))
}

func TestProseExtractor_MentionsComeFromText(t *testing.T) {
	x := NewProseExtractor()
	text := "Barack Obama met Angela Merkel in Berlin last week."

	for surface, entityType := range x.ExtractTyped(text) {
		assert.NotEmpty(t, surface)
		assert.NotEmpty(t, entityType)
		assert.True(t, strings.Contains(text, surface), "mention %q not found in text", surface)
	}
}

func TestNewExtractor(t *testing.T) {
	assert.IsType(t, &ProseExtractor{}, NewExtractor("prose"))
	assert.IsType(t, &RegexExtractor{}, NewExtractor("PROSE-ish"))
	assert.IsType(t, &RegexExtractor{}, NewExtractor(""))
}

func TestCollectMentions_DefaultType(t *testing.T) {
	mentions := CollectMentions(NewRegexExtractor(), "Alice met Bob")

	assert.Equal(t, []Mention{
		{Surface: "Alice", Type: DefaultEntityType},
		{Surface: "Bob", Type: DefaultEntityType},
	}, mentions)
}
