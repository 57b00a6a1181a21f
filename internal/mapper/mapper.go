// Package mapper assigns collision-safe placeholders to entities.
//
// A Mapper is the one piece of shared mutable state in a session: the
// identity → placeholder table, its inverse, the per-label counters and the
// documents being anonymized. Every mutation runs under a single mutex, so
// GetOrCreate is safe to call from any number of goroutines.
package mapper

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/metrics"
)

// ErrPlaceholderExhausted is returned when no collision-free placeholder was
// found within the configured retry ceiling.
var ErrPlaceholderExhausted = errors.New("placeholder retries exhausted")

// Pair is one placeholder and the original text it stands for.
type Pair struct {
	Placeholder string `json:"placeholder"`
	Original    string `json:"original"`
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithMaxRetries caps the number of candidates tried per new placeholder.
// n <= 0 means unbounded.
func WithMaxRetries(n int) Option {
	return func(m *Mapper) { m.maxRetries = n }
}

// WithMetrics records placeholder creations and collisions on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mapper) { m.metrics = mt }
}

// Mapper maps entity identities to placeholders of the form [LABEL_N].
type Mapper struct {
	mu            sync.Mutex
	byKey         map[entity.Key]string
	byPlaceholder map[string]string
	order         []string // placeholders in creation order
	counters      map[entity.Label]int
	documents     []string
	registered    map[string]struct{}

	maxRetries int
	metrics    *metrics.Metrics
}

// New returns an empty Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		byKey:         make(map[entity.Key]string),
		byPlaceholder: make(map[string]string),
		counters:      make(map[entity.Label]int),
		registered:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddDocument adds text to the corpus that candidates are checked against.
// A placeholder never equals a substring of any added document. Adding the
// same text twice is a no-op.
func (m *Mapper) AddDocument(text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[text]; ok {
		return
	}
	m.registered[text] = struct{}{}
	m.documents = append(m.documents, text)
}

// GetOrCreate returns the placeholder for s's identity, creating one on first
// sight. Identity is case-insensitive text plus label, so "John Doe" and
// "john doe" share a placeholder. The original text recorded for a new
// placeholder is the first spelling seen.
func (m *Mapper) GetOrCreate(s entity.Span) (string, error) {
	key := s.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.byKey[key]; ok {
		return p, nil
	}

	n := m.counters[s.Label]
	for tries := 0; ; tries++ {
		if m.maxRetries > 0 && tries >= m.maxRetries {
			return "", errors.Wrapf(ErrPlaceholderExhausted, "%s after %d candidates", s.Label, tries)
		}
		n++
		candidate := format(s.Label, n)
		if !m.collides(candidate) {
			m.counters[s.Label] = n
			m.byKey[key] = candidate
			m.byPlaceholder[candidate] = s.Text
			m.order = append(m.order, candidate)
			if m.metrics != nil {
				m.metrics.PlaceholdersCreated.Add(1)
			}
			return candidate, nil
		}
		if m.metrics != nil {
			m.metrics.PlaceholderCollisions.Add(1)
		}
	}
}

// collides reports whether candidate is already a placeholder or occurs
// verbatim in a registered document. Callers hold m.mu.
func (m *Mapper) collides(candidate string) bool {
	if _, taken := m.byPlaceholder[candidate]; taken {
		return true
	}
	for _, doc := range m.documents {
		if strings.Contains(doc, candidate) {
			return true
		}
	}
	return false
}

// Mapping returns a copy of placeholder → original text.
func (m *Mapper) Mapping() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.byPlaceholder))
	for p, orig := range m.byPlaceholder {
		out[p] = orig
	}
	return out
}

// Pairs returns every placeholder with its original, in creation order.
func (m *Mapper) Pairs() []Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pair, 0, len(m.order))
	for _, p := range m.order {
		out = append(out, Pair{Placeholder: p, Original: m.byPlaceholder[p]})
	}
	return out
}

// Len returns the number of placeholders created.
func (m *Mapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func format(l entity.Label, n int) string {
	return fmt.Sprintf("[%s_%d]", l, n)
}

// IsPlaceholder reports whether s has the bracketed placeholder shape that
// reversal matches on: it starts with "[" and ends with "]". "[]" qualifies;
// a lone "[" does not.
func IsPlaceholder(s string) bool {
	return len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']'
}
