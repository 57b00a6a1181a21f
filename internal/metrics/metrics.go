// Package metrics provides lightweight, lock-minimal counters for the
// anonymization pipeline.
//
// Counters use sync/atomic so the per-chunk detection workers incur no mutex
// contention. Latency statistics use a single mutex per dimension; they are
// updated at most once per document.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"text-anonymizer/internal/entity"
)

// Metrics holds all runtime counters for one process.
// The zero value is usable but records no per-label counts; use New().
// A nil *Metrics is accepted by every Record method.
type Metrics struct {
	DocumentsProcessed atomic.Int64

	// Detection
	RegexChunks     atomic.Int64
	TokenChunks     atomic.Int64
	OracleCalls     atomic.Int64
	OracleErrors    atomic.Int64
	SpansDetected   atomic.Int64
	DuplicatesFound atomic.Int64
	OverlapsRemoved atomic.Int64

	// Mapping and substitution
	PlaceholdersCreated   atomic.Int64
	PlaceholderCollisions atomic.Int64
	Deanonymized          atomic.Int64

	// Maps are written only in New(); concurrent reads are safe without a lock.
	substituted map[entity.Label]*atomic.Int64

	detectMu   sync.Mutex
	detectStat latencyStats

	substMu   sync.Mutex
	substStat latencyStats

	startTime time.Time
}

// New returns a Metrics with the start time recorded and per-label counters
// pre-populated for the closed label set.
func New() *Metrics {
	m := &Metrics{
		startTime:   time.Now(),
		substituted: make(map[entity.Label]*atomic.Int64, len(entity.AllLabels)),
	}
	for _, l := range entity.AllLabels {
		m.substituted[l] = new(atomic.Int64)
	}
	return m
}

// RecordSubstitution increments the substitution counter for label.
// Unknown labels are silently ignored.
func (m *Metrics) RecordSubstitution(label entity.Label) {
	if m == nil {
		return
	}
	if c, ok := m.substituted[label]; ok {
		c.Add(1)
	}
}

// RecordDetectLatency records the duration of one detection pass.
func (m *Metrics) RecordDetectLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.detectMu.Lock()
	m.detectStat.record(float64(d.Microseconds()) / 1000.0)
	m.detectMu.Unlock()
}

// RecordSubstituteLatency records the duration of one substitution pass.
func (m *Metrics) RecordSubstituteLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.substMu.Lock()
	m.substStat.record(float64(d.Microseconds()) / 1000.0)
	m.substMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	m.substMu.Lock()
	subst := m.substStat.snapshot()
	m.substMu.Unlock()

	byLabel := make(map[string]int64, len(m.substituted))
	for l, c := range m.substituted {
		if n := c.Load(); n > 0 {
			byLabel[string(l)] = n
		}
	}

	var uptime float64
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Seconds()
	}

	return Snapshot{
		Documents: m.DocumentsProcessed.Load(),
		Detection: DetectionSnapshot{
			RegexChunks:     m.RegexChunks.Load(),
			TokenChunks:     m.TokenChunks.Load(),
			OracleCalls:     m.OracleCalls.Load(),
			OracleErrors:    m.OracleErrors.Load(),
			SpansDetected:   m.SpansDetected.Load(),
			DuplicatesFound: m.DuplicatesFound.Load(),
			OverlapsRemoved: m.OverlapsRemoved.Load(),
		},
		Mapping: MappingSnapshot{
			PlaceholdersCreated: m.PlaceholdersCreated.Load(),
			Collisions:          m.PlaceholderCollisions.Load(),
			SubstitutedByLabel:  byLabel,
			Deanonymized:        m.Deanonymized.Load(),
		},
		Latency: LatencyGroup{
			DetectionMs:    detect,
			SubstitutionMs: subst,
		},
		UptimeSecs: uptime,
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Documents  int64             `json:"documents"`
	Detection  DetectionSnapshot `json:"detection"`
	Mapping    MappingSnapshot   `json:"mapping"`
	Latency    LatencyGroup      `json:"latency"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// DetectionSnapshot holds chunking and detector counters.
type DetectionSnapshot struct {
	RegexChunks     int64 `json:"regexChunks"`
	TokenChunks     int64 `json:"tokenChunks"`
	OracleCalls     int64 `json:"oracleCalls"`
	OracleErrors    int64 `json:"oracleErrors"`
	SpansDetected   int64 `json:"spansDetected"`
	DuplicatesFound int64 `json:"duplicatesFound"`
	OverlapsRemoved int64 `json:"overlapsRemoved"`
}

// MappingSnapshot holds placeholder and substitution counters.
type MappingSnapshot struct {
	PlaceholdersCreated int64 `json:"placeholdersCreated"`
	Collisions          int64 `json:"collisions"`

	// Only labels with non-zero counts appear.
	SubstitutedByLabel map[string]int64 `json:"substitutedByLabel,omitempty"`

	Deanonymized int64 `json:"deanonymized"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	DetectionMs    LatencySnapshot `json:"detectionMs"`
	SubstitutionMs LatencySnapshot `json:"substitutionMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
