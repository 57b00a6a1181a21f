// Package report summarises an anonymization run and reads and writes the
// line-oriented mapping file used to restore documents.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/mapper"
)

const (
	mappingHeader    = "ENTITY MAPPINGS"
	statisticsHeader = "ANONYMIZATION STATISTICS"
	rule             = "=================================================="
	arrow            = " → "
)

// ConfidenceStats summarises the confidences of one label.
type ConfidenceStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Statistics describes the substituted entities of one document.
type Statistics struct {
	TotalEntities  int                              `json:"totalEntities"`
	UniqueEntities int                              `json:"uniqueEntities"`
	ByCategory     map[entity.Label]int             `json:"byCategory"`
	Confidence     map[entity.Label]ConfidenceStats `json:"confidence"`
	TypesFound     []entity.Label                   `json:"typesFound"`
	Elapsed        time.Duration                    `json:"elapsedNs"`
}

// Build computes statistics over the substituted spans. unique is the number
// of distinct placeholders in the mapping.
func Build(spans []entity.Span, unique int) Statistics {
	st := Statistics{
		TotalEntities:  len(spans),
		UniqueEntities: unique,
		ByCategory:     make(map[entity.Label]int),
		Confidence:     make(map[entity.Label]ConfidenceStats),
	}
	sums := make(map[entity.Label]float64)
	for _, s := range spans {
		n := st.ByCategory[s.Label]
		c := st.Confidence[s.Label]
		if n == 0 {
			c.Min, c.Max = s.Confidence, s.Confidence
			st.TypesFound = append(st.TypesFound, s.Label)
		}
		c.Min = min(c.Min, s.Confidence)
		c.Max = max(c.Max, s.Confidence)
		st.Confidence[s.Label] = c
		st.ByCategory[s.Label] = n + 1
		sums[s.Label] += s.Confidence
	}
	for l, c := range st.Confidence {
		c.Mean = sums[l] / float64(st.ByCategory[l])
		st.Confidence[l] = c
	}
	return st
}

// WriteStatistics writes st in a human-readable form.
func WriteStatistics(w io.Writer, st Statistics) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", statisticsHeader, rule)
	fmt.Fprintf(&b, "Total entities found: %d\n", st.TotalEntities)
	fmt.Fprintf(&b, "Unique entities: %d\n", st.UniqueEntities)
	fmt.Fprintf(&b, "Processing time: %.2fs\n\n", st.Elapsed.Seconds())
	b.WriteString("Entity categories:\n")
	for _, l := range st.TypesFound {
		c := st.Confidence[l]
		fmt.Fprintf(&b, "  %s: %d (confidence avg %.2f, min %.2f, max %.2f)\n",
			l, st.ByCategory[l], c.Mean, c.Min, c.Max)
	}
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "write statistics")
}

// Line breaks and backslashes in originals are escaped so that every pair
// stays on one line.
var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

// WriteMapping writes one "placeholder → 'original'" line per pair under a
// short header.
func WriteMapping(w io.Writer, pairs []mapper.Pair) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n%s\n\n", mappingHeader, rule)
	for _, p := range pairs {
		fmt.Fprintf(bw, "%s%s'%s'\n", p.Placeholder, arrow, escaper.Replace(p.Original))
	}
	return errors.Wrap(bw.Flush(), "write mapping")
}

// ParseMapping reads a file produced by WriteMapping. Header, rule and blank
// lines are skipped; any other line that is not a pair is an error.
func ParseMapping(r io.Reader) ([]mapper.Pair, error) {
	var pairs []mapper.Pair
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || line == mappingHeader || line == rule {
			continue
		}
		placeholder, quoted, ok := strings.Cut(line, arrow)
		if !ok || !mapper.IsPlaceholder(placeholder) ||
			len(quoted) < 2 || quoted[0] != '\'' || quoted[len(quoted)-1] != '\'' {
			return nil, errors.Errorf("mapping line %d: malformed pair %q", lineNo, line)
		}
		pairs = append(pairs, mapper.Pair{
			Placeholder: placeholder,
			Original:    unescaper.Replace(quoted[1 : len(quoted)-1]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read mapping")
	}
	return pairs, nil
}

// Mapping converts pairs to the placeholder → original form used for
// reversal.
func Mapping(pairs []mapper.Pair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Placeholder] = p.Original
	}
	return out
}
