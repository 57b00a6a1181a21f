// Package anonymizer replaces detected entities with placeholders and puts
// them back.
//
// The forward direction splices a [LABEL_N] placeholder over every supported,
// non-overlapping span; the reverse direction swaps placeholders for their
// originals in a single pass. Service ties detection, mapping, substitution
// and persistence into one pipeline.
package anonymizer

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/mapper"
)

// DefaultSupportedLabels is every label in the closed set.
var DefaultSupportedLabels = entity.NewLabelSet(entity.AllLabels...)

// Output is the result of one forward substitution.
type Output struct {
	Text     string            // redacted text
	Entities []entity.Span     // spans actually substituted, by start offset
	Mapping  map[string]string // placeholder → original, whole session
	Skipped  int               // spans dropped for bad bounds, text or overlap
}

// Anonymize replaces each span of text whose label is in supported with the
// placeholder m assigns to it. supported == nil means DefaultSupportedLabels.
//
// text is registered with m so no placeholder can equal a substring of it.
// Spans with out-of-range bounds, text that does not match the document, or
// that overlap an earlier substituted span are skipped. Placeholders are
// requested in document order, so numbering follows reading order.
func Anonymize(text string, spans []entity.Span, m *mapper.Mapper, supported entity.LabelSet) (Output, error) {
	if supported == nil {
		supported = DefaultSupportedLabels
	}
	m.AddDocument(text)

	candidates := make([]entity.Span, 0, len(spans))
	for _, s := range spans {
		if supported.Has(s.Label) {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Start < candidates[j].Start })

	out := Output{Skipped: len(spans) - len(candidates)}
	placeholders := make([]string, 0, len(candidates))
	prevEnd := 0
	for _, s := range candidates {
		if s.Start < prevEnd || s.Start >= s.End || s.End > len(text) || text[s.Start:s.End] != s.Text {
			out.Skipped++
			continue
		}
		p, err := m.GetOrCreate(s)
		if err != nil {
			return Output{}, errors.Wrapf(err, "placeholder for %s", s)
		}
		out.Entities = append(out.Entities, s)
		placeholders = append(placeholders, p)
		prevEnd = s.End
	}

	out.Text = splice(text, out.Entities, placeholders)
	out.Mapping = m.Mapping()
	return out, nil
}

// splice writes text with spans[i] replaced by placeholders[i]. spans are
// non-overlapping and ordered by start; every offset refers to the original
// text, so replacements never shift each other.
func splice(text string, spans []entity.Span, placeholders []string) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for i, s := range spans {
		b.WriteString(text[last:s.Start])
		b.WriteString(placeholders[i])
		last = s.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// Deanonymize replaces every placeholder of mapping that occurs in text with
// its original. Keys that are not bracketed placeholders are ignored, and
// placeholders absent from text are a no-op.
//
// Replacement is one left-to-right pass that prefers the longest placeholder
// at each position, so [PER_1] never matches inside [PER_10] and restored
// originals are never rescanned.
func Deanonymize(text string, mapping map[string]string) string {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		if mapper.IsPlaceholder(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return text
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	oldnew := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		oldnew = append(oldnew, k, mapping[k])
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}
