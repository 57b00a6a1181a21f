// Package entity defines the shared data model of the anonymization pipeline:
// labels, detected spans, their case-insensitive identity, and chunks.
//
// All offsets are byte offsets into the original, unchunked document, so
// for every span emitted by a detector doc[s.Start:s.End] == s.Text.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Label classifies the kind of sensitive text found.
type Label string

// The closed label set. Placeholders are built as [LABEL_N].
const (
	Person       Label = "PER"
	Organization Label = "ORG"
	Location     Label = "LOC"
	Email        Label = "EMAIL"
	Phone        Label = "PHONE"
	URL          Label = "URL"
	Misc         Label = "MISC"
)

// AllLabels lists every label in the closed set, in a stable order.
var AllLabels = []Label{Person, Organization, Location, Email, Phone, URL, Misc}

// Valid reports whether l belongs to the closed label set.
func (l Label) Valid() bool {
	for _, known := range AllLabels {
		if l == known {
			return true
		}
	}
	return false
}

// Span is one detected occurrence of an entity.
type Span struct {
	Text       string  `json:"text"`
	Label      Label   `json:"label"`
	Start      int     `json:"start"` // inclusive byte offset
	End        int     `json:"end"`   // exclusive byte offset
	Confidence float64 `json:"confidence"`
}

// Key is the identity of a logical entity. Two spans with the same
// case-insensitive text and label are the same entity wherever they occur.
type Key struct {
	Text  string
	Label Label
}

// Key returns the span's identity.
func (s Span) Key() Key {
	return Key{Text: Normalize(s.Text), Label: s.Label}
}

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && s.End > o.Start
}

func (s Span) String() string {
	return fmt.Sprintf("%s(%q)[%d:%d]@%.2f", s.Label, s.Text, s.Start, s.End, s.Confidence)
}

// Normalize lowercases text for identity comparisons. A new Caser is built per
// call because cases.Caser is not safe for concurrent use.
func Normalize(text string) string {
	return cases.Lower(language.Und).String(text)
}

// Chunk is a contiguous slice of a document plus the byte offset of its first
// byte in that document.
type Chunk struct {
	Text   string
	Offset int
}

// End returns the exclusive document offset of the chunk's last byte.
func (c Chunk) End() int { return c.Offset + len(c.Text) }

// LabelSet is an unordered set of labels.
type LabelSet map[Label]struct{}

// NewLabelSet builds a set from the given labels.
func NewLabelSet(labels ...Label) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// ParseLabelSet builds a set from label names such as "PER" or "email".
// Names outside the closed set are rejected.
func ParseLabelSet(names []string) (LabelSet, error) {
	s := make(LabelSet, len(names))
	for _, n := range names {
		l := Label(strings.ToUpper(strings.TrimSpace(n)))
		if !l.Valid() {
			return nil, errors.Errorf("unknown label %q", n)
		}
		s[l] = struct{}{}
	}
	return s, nil
}

// Has reports whether l is in the set.
func (s LabelSet) Has(l Label) bool {
	_, ok := s[l]
	return ok
}

// Sorted returns the labels in the set in lexical order.
func (s LabelSet) Sorted() []Label {
	out := make([]Label, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
