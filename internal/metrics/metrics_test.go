package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"text-anonymizer/internal/entity"
)

func TestNewStartTimeSet(t *testing.T) {
	before := time.Now()
	m := New()
	after := time.Now()

	assert.False(t, m.startTime.Before(before))
	assert.False(t, m.startTime.After(after))
}

func TestZeroValueSnapshotSafe(t *testing.T) {
	var m Metrics
	m.RecordSubstitution(entity.Person)
	s := m.Snapshot()
	assert.Zero(t, s.Documents)
	assert.Empty(t, s.Mapping.SubstitutedByLabel)
	assert.Zero(t, s.UptimeSecs)
}

func TestNilReceiverRecordsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordSubstitution(entity.Email)
	m.RecordDetectLatency(time.Millisecond)
	m.RecordSubstituteLatency(time.Millisecond)
}

func TestDetectionCounters(t *testing.T) {
	m := New()
	m.RegexChunks.Add(3)
	m.TokenChunks.Add(4)
	m.OracleCalls.Add(4)
	m.OracleErrors.Add(1)
	m.SpansDetected.Add(12)
	m.DuplicatesFound.Add(2)
	m.OverlapsRemoved.Add(1)

	d := m.Snapshot().Detection
	assert.Equal(t, DetectionSnapshot{
		RegexChunks:     3,
		TokenChunks:     4,
		OracleCalls:     4,
		OracleErrors:    1,
		SpansDetected:   12,
		DuplicatesFound: 2,
		OverlapsRemoved: 1,
	}, d)
}

func TestSubstitutionCounters(t *testing.T) {
	m := New()
	m.RecordSubstitution(entity.Person)
	m.RecordSubstitution(entity.Person)
	m.RecordSubstitution(entity.Email)
	m.RecordSubstitution(entity.Label("SSN"))

	s := m.Snapshot().Mapping
	assert.Equal(t, int64(2), s.SubstitutedByLabel["PER"])
	assert.Equal(t, int64(1), s.SubstitutedByLabel["EMAIL"])
	assert.NotContains(t, s.SubstitutedByLabel, "SSN")
	assert.NotContains(t, s.SubstitutedByLabel, "URL", "zero counts are omitted")
}

func TestRecordDetectLatencyMinMaxMean(t *testing.T) {
	m := New()
	m.RecordDetectLatency(50 * time.Millisecond)
	m.RecordDetectLatency(150 * time.Millisecond)
	m.RecordDetectLatency(100 * time.Millisecond)

	ls := m.Snapshot().Latency.DetectionMs
	assert.Equal(t, int64(3), ls.Count)
	assert.InDelta(t, 50, ls.MinMs, 1)
	assert.InDelta(t, 150, ls.MaxMs, 1)
	assert.InDelta(t, 100, ls.MeanMs, 1)
}

func TestSnapshotLatencyEmptyIsZeroValue(t *testing.T) {
	s := New().Snapshot()
	assert.Equal(t, LatencySnapshot{}, s.Latency.DetectionMs)
	assert.Equal(t, LatencySnapshot{}, s.Latency.SubstitutionMs)
}

func TestSnapshotUptimePositive(t *testing.T) {
	m := New()
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, m.Snapshot().UptimeSecs, 0.0)
}

func TestRound2(t *testing.T) {
	cases := []struct {
		input float64
		want  float64
	}{
		{1.236, 1.24},
		{1.234, 1.23},
		{100.0, 100.0},
		{0.0, 0.0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, round2(c.input), "round2(%f)", c.input)
	}
}

func TestLatencyStatsRecord(t *testing.T) {
	var s latencyStats
	s.record(10)
	s.record(20)
	s.record(15)

	assert.Equal(t, LatencySnapshot{Count: 3, MinMs: 10, MeanMs: 15, MaxMs: 20}, s.snapshot())
}
