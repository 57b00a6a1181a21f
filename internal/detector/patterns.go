package detector

import (
	"regexp"
	"strings"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
)

// pattern pairs a compiled regex with its label. trim lists trailing bytes
// stripped from a match (sentence punctuation after a URL, for instance).
type pattern struct {
	re    *regexp.Regexp
	label entity.Label
	trim  string
}

// PatternMatcher finds structured entities (email, phone, URL) with regular
// expressions. Matches are certain by construction and get confidence 1.0.
// It holds no mutable state and is safe for concurrent use.
type PatternMatcher struct {
	patterns []pattern
}

// NewPatternMatcher compiles the built-in patterns. A pattern that fails to
// compile is logged and skipped.
func NewPatternMatcher(log *logger.Logger) *PatternMatcher {
	specs := []struct {
		expr  string
		label entity.Label
		trim  string
	}{
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, entity.Email, ""},
		// North American numbers: 555-123-4567, (555) 123-4567, +1 555.123.4567
		{`(?:\+1[\-.\s]?|\b1[\-.\s]?)?(?:\(\d{3}\)|\b[2-9]\d{2})[\-.\s]?\d{3}[\-.\s]?\d{4}\b`, entity.Phone, ""},
		// Vanity toll-free numbers: 1-800-SUPPORT
		{`\b1-8\d{2}-[A-Z]{7}\b`, entity.Phone, ""},
		// International numbers: +44 20 7946 0958, +49-30-1234567
		{`\+[2-9]\d{0,2}(?:[\-.\s]?\d{2,4}){2,5}\b`, entity.Phone, ""},
		{`https?://[\-\w]+(?:\.[\-\w]+)*(?::\d+)?(?:/[\w/.\-~%+]*)?(?:\?[\w&=%.\-+]*)?(?:#[\w\-]*)?`, entity.URL, ".,;:!?"},
		{`\bwww\.[\-\w]+(?:\.[\-\w]+)+(?:/[\w/.\-~%+]*)?`, entity.URL, ".,;:!?"},
	}
	m := &PatternMatcher{}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			log.Warnf("pattern_compile", "could not compile pattern %q: %v", s.expr, err)
			continue
		}
		m.patterns = append(m.patterns, pattern{re: re, label: s.label, trim: s.trim})
	}
	return m
}

// Match runs every pattern over the chunk and returns spans in document
// coordinates.
func (m *PatternMatcher) Match(c entity.Chunk) []entity.Span {
	var spans []entity.Span
	for _, p := range m.patterns {
		for _, loc := range p.re.FindAllStringIndex(c.Text, -1) {
			start, end := loc[0], loc[1]
			if p.trim != "" {
				end = start + len(strings.TrimRight(c.Text[start:end], p.trim))
			}
			text := c.Text[start:end]
			if strings.TrimSpace(text) == "" {
				continue
			}
			spans = append(spans, entity.Span{
				Text:       text,
				Label:      p.label,
				Start:      c.Offset + start,
				End:        c.Offset + end,
				Confidence: 1.0,
			})
		}
	}
	return spans
}
