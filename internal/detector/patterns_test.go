package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
)

func matchTexts(spans []entity.Span, label entity.Label) []string {
	var out []string
	for _, s := range spans {
		if s.Label == label {
			out = append(out, s.Text)
		}
	}
	return out
}

func TestPatternMatcherEmail(t *testing.T) {
	m := NewPatternMatcher(logger.Nop())
	spans := m.Match(entity.Chunk{Text: "Contact info@acme.com now.", Offset: 0})

	require.Len(t, spans, 1)
	assert.Equal(t, entity.Span{Text: "info@acme.com", Label: entity.Email, Start: 8, End: 21, Confidence: 1.0}, spans[0])
}

func TestPatternMatcherPhoneFormats(t *testing.T) {
	m := NewPatternMatcher(logger.Nop())
	cases := []struct {
		text string
		want string
	}{
		{"call 555-123-4567 today", "555-123-4567"},
		{"call (555) 123-4567 today", "(555) 123-4567"},
		{"call +1 555 123 4567 today", "+1 555 123 4567"},
		{"call 555.123.4567 today", "555.123.4567"},
		{"call 1-800-SUPPORT today", "1-800-SUPPORT"},
		{"call +44 20 7946 0958 today", "+44 20 7946 0958"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			spans := m.Match(entity.Chunk{Text: c.text})
			assert.Contains(t, matchTexts(spans, entity.Phone), c.want)
		})
	}
}

func TestPatternMatcherURLTrimsSentencePunctuation(t *testing.T) {
	m := NewPatternMatcher(logger.Nop())
	spans := m.Match(entity.Chunk{Text: "Docs at https://example.com/docs/index.html. Or see www.acme.com, please."})

	assert.Equal(t, []string{"https://example.com/docs/index.html", "www.acme.com"}, matchTexts(spans, entity.URL))
}

func TestPatternMatcherTranslatesOffsets(t *testing.T) {
	m := NewPatternMatcher(logger.Nop())
	doc := "0123456789 mail bob@corp.io"
	c := entity.Chunk{Text: doc[11:], Offset: 11}

	spans := m.Match(c)
	require.Len(t, spans, 1)
	assert.Equal(t, "bob@corp.io", doc[spans[0].Start:spans[0].End])
}

func TestPatternMatcherNothingInPlainText(t *testing.T) {
	m := NewPatternMatcher(logger.Nop())
	assert.Empty(t, m.Match(entity.Chunk{Text: "Nothing structured lives here."}))
	assert.Empty(t, m.Match(entity.Chunk{Text: "   "}))
}
