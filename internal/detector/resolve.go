package detector

import (
	"sort"

	"text-anonymizer/internal/entity"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	Spans      []entity.Span // non-overlapping, ordered by Start
	Duplicates int           // exact duplicates collapsed
	Overlaps   int           // spans dropped or evicted by overlap
}

type positionKey struct {
	start, end int
	text       string
	label      entity.Label
}

// Resolve merges raw detector output in two phases.
//
// First, spans with identical (start, end, lowercase text, label) collapse to
// one; chunk overlap routinely detects the same span twice.
//
// Second, spans are scanned by ascending start, then descending confidence,
// then descending length. A span overlapping an accepted span evicts it only
// if its confidence is strictly higher; otherwise it is dropped, so confidence
// ties keep the span accepted first. This is a greedy single pass,
// deterministic for a given input but not globally optimal.
func Resolve(spans []entity.Span) Resolution {
	var res Resolution
	if len(spans) == 0 {
		return res
	}

	seen := make(map[positionKey]struct{}, len(spans))
	unique := make([]entity.Span, 0, len(spans))
	for _, s := range spans {
		k := positionKey{start: s.Start, end: s.End, text: entity.Normalize(s.Text), label: s.Label}
		if _, dup := seen[k]; dup {
			res.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, s)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		a, b := unique[i], unique[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.End > b.End
	})

	// accepted stays sorted by Start and free of overlaps, and every span
	// scanned starts at or after all of them, so only the last accepted span
	// can overlap the next one.
	accepted := make([]entity.Span, 0, len(unique))
	for _, s := range unique {
		n := len(accepted)
		if n == 0 || !accepted[n-1].Overlaps(s) {
			accepted = append(accepted, s)
			continue
		}
		res.Overlaps++
		if s.Confidence > accepted[n-1].Confidence {
			accepted[n-1] = s
		}
	}

	res.Spans = accepted
	return res
}
