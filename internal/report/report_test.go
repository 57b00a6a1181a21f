package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/mapper"
)

func TestBuildStatistics(t *testing.T) {
	spans := []entity.Span{
		{Text: "John", Label: entity.Person, Confidence: 0.95},
		{Text: "Acme", Label: entity.Organization, Confidence: 0.9},
		{Text: "Jane", Label: entity.Person, Confidence: 0.80},
	}
	st := Build(spans, 3)

	assert.Equal(t, 3, st.TotalEntities)
	assert.Equal(t, 3, st.UniqueEntities)
	assert.Equal(t, map[entity.Label]int{entity.Person: 2, entity.Organization: 1}, st.ByCategory)
	assert.Equal(t, []entity.Label{entity.Person, entity.Organization}, st.TypesFound)
	assert.InDelta(t, (0.95+0.80)/2, st.Confidence[entity.Person].Mean, 1e-9)
	assert.Equal(t, 0.80, st.Confidence[entity.Person].Min)
	assert.Equal(t, 0.95, st.Confidence[entity.Person].Max)
}

func TestBuildStatisticsEmpty(t *testing.T) {
	st := Build(nil, 0)
	assert.Zero(t, st.TotalEntities)
	assert.Empty(t, st.ByCategory)
	assert.Empty(t, st.Confidence)
	assert.Empty(t, st.TypesFound)
}

func TestWriteStatistics(t *testing.T) {
	st := Build([]entity.Span{{Text: "a@b.io", Label: entity.Email, Confidence: 1}}, 1)
	st.Elapsed = 1500 * time.Millisecond

	var buf bytes.Buffer
	require.NoError(t, WriteStatistics(&buf, st))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "ANONYMIZATION STATISTICS\n"))
	assert.Contains(t, out, "Total entities found: 1\n")
	assert.Contains(t, out, "Unique entities: 1\n")
	assert.Contains(t, out, "Processing time: 1.50s\n")
	assert.Contains(t, out, "  EMAIL: 1 (confidence avg 1.00, min 1.00, max 1.00)\n")
}

func TestWriteMappingFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMapping(&buf, []mapper.Pair{
		{Placeholder: "[PER_1]", Original: "John Smith"},
		{Placeholder: "[ORG_1]", Original: "Acme Corp"},
	}))
	assert.Equal(t, "ENTITY MAPPINGS\n"+rule+"\n\n"+
		"[PER_1] → 'John Smith'\n"+
		"[ORG_1] → 'Acme Corp'\n", buf.String())
}

func TestMappingSurvivesAWriteAndParse(t *testing.T) {
	pairs := []mapper.Pair{
		{Placeholder: "[PER_1]", Original: "O'Brien"},
		{Placeholder: "[ORG_1]", Original: "Acme\nCorp"},
		{Placeholder: "[MISC_1]", Original: `C:\new → old`},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteMapping(&buf, pairs))

	got, err := ParseMapping(&buf)
	require.NoError(t, err)
	assert.Equal(t, pairs, got)
	assert.Equal(t, "Acme\nCorp", Mapping(got)["[ORG_1]"])
}

func TestParseMappingRejectsGarbage(t *testing.T) {
	for _, in := range []string{
		"[PER_1] = 'John'\n",
		"PER_1 → 'John'\n",
		"[PER_1] → John\n",
	} {
		_, err := ParseMapping(strings.NewReader(in))
		assert.Error(t, err, in)
	}
}

func TestParseMappingToleratesCRLF(t *testing.T) {
	got, err := ParseMapping(strings.NewReader("ENTITY MAPPINGS\r\n\r\n[LOC_2] → 'Paris'\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []mapper.Pair{{Placeholder: "[LOC_2]", Original: "Paris"}}, got)
}
