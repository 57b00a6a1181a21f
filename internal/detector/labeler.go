package detector

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
)

// OracleSpan is one labeled span reported by a span-labeling model, in
// coordinates local to the text it was given.
type OracleSpan struct {
	Label string
	Start int
	End   int
	Score float64
}

// Oracle labels spans of text. Implementations may be slow and may fail;
// a failure means "no entities for this text", never a fatal error.
type Oracle interface {
	Label(ctx context.Context, text string) ([]OracleSpan, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, text string) ([]OracleSpan, error)

// Label calls f(ctx, text).
func (f OracleFunc) Label(ctx context.Context, text string) ([]OracleSpan, error) {
	return f(ctx, text)
}

// UnknownLabelPolicy decides what happens to oracle categories outside the
// closed label set.
type UnknownLabelPolicy string

const (
	// UnknownAsMisc maps unknown categories to MISC.
	UnknownAsMisc UnknownLabelPolicy = "misc"
	// UnknownPassThrough keeps the oracle's category, upper-cased. Such spans
	// are detected but only substituted if the label is made supported.
	UnknownPassThrough UnknownLabelPolicy = "passthrough"
)

// ParseUnknownLabelPolicy validates a policy name. Empty selects UnknownAsMisc.
func ParseUnknownLabelPolicy(s string) (UnknownLabelPolicy, error) {
	switch p := UnknownLabelPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return UnknownAsMisc, nil
	case UnknownAsMisc, UnknownPassThrough:
		return p, nil
	}
	return "", errors.Errorf("unknown label policy %q (want %q or %q)", s, UnknownAsMisc, UnknownPassThrough)
}

// oracleLabels maps model categories onto the closed label set.
var oracleLabels = map[string]entity.Label{
	"PERSON":        entity.Person,
	"PER":           entity.Person,
	"ORGANIZATION":  entity.Organization,
	"ORGANISATION":  entity.Organization,
	"ORG":           entity.Organization,
	"LOCATION":      entity.Location,
	"LOC":           entity.Location,
	"MISCELLANEOUS": entity.Misc,
	"MISC":          entity.Misc,
	"EMAIL":         entity.Email,
	"PHONE":         entity.Phone,
	"URL":           entity.URL,
}

// LabelerConfig tunes the span labeler adapter.
type LabelerConfig struct {
	// Threshold is the minimum oracle score kept (inclusive).
	Threshold     float64
	UnknownLabels UnknownLabelPolicy
	// Timeout bounds each oracle call; zero means no bound. A timeout is
	// handled exactly like any other oracle failure.
	Timeout time.Duration
}

// DefaultThreshold is the default minimum oracle confidence.
const DefaultThreshold = 0.8

// Labeler adapts an Oracle to the pipeline: it filters by confidence, maps
// labels, translates offsets to document coordinates and re-reads entity
// text from the source rather than trusting the model's surface form.
type Labeler struct {
	oracle  Oracle
	cfg     LabelerConfig
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewLabeler wraps oracle. m may be nil.
func NewLabeler(oracle Oracle, cfg LabelerConfig, log *logger.Logger, m *metrics.Metrics) *Labeler {
	if cfg.UnknownLabels == "" {
		cfg.UnknownLabels = UnknownAsMisc
	}
	return &Labeler{oracle: oracle, cfg: cfg, log: log, metrics: m}
}

// Label runs the oracle on one chunk. Oracle failures are logged and yield
// no spans.
func (l *Labeler) Label(ctx context.Context, c entity.Chunk) []entity.Span {
	if strings.TrimSpace(c.Text) == "" {
		return nil
	}
	if l.metrics != nil {
		l.metrics.OracleCalls.Add(1)
	}
	found, err := l.call(ctx, c.Text)
	if err != nil {
		if l.metrics != nil {
			l.metrics.OracleErrors.Add(1)
		}
		l.log.Warnf("oracle_failed", "chunk at offset %d (%d bytes): %v", c.Offset, len(c.Text), err)
		return nil
	}

	var spans []entity.Span
	for _, o := range found {
		if o.Score < l.cfg.Threshold {
			continue
		}
		if o.Start < 0 || o.End > len(c.Text) || o.Start >= o.End {
			l.log.Debugf("oracle_span_skipped", "span [%d:%d] outside chunk of %d bytes", o.Start, o.End, len(c.Text))
			continue
		}
		text := c.Text[o.Start:o.End]
		if strings.TrimSpace(text) == "" || !utf8.ValidString(text) {
			continue
		}
		spans = append(spans, entity.Span{
			Text:       text,
			Label:      l.mapLabel(o.Label),
			Start:      c.Offset + o.Start,
			End:        c.Offset + o.End,
			Confidence: o.Score,
		})
	}
	return spans
}

// call invokes the oracle, converting panics and timeouts into errors. The
// oracle runs on its own goroutine so a call that ignores ctx still releases
// the caller when ctx ends.
func (l *Labeler) call(ctx context.Context, text string) ([]OracleSpan, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	type result struct {
		spans []OracleSpan
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.Errorf("oracle panic: %v", r)}
			}
		}()
		spans, err := l.oracle.Label(ctx, text)
		done <- result{spans: spans, err: err}
	}()

	select {
	case r := <-done:
		return r.spans, r.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "oracle call")
	}
}

// mapLabel maps a model category to a Label. BIO prefixes (B-PER, I-ORG)
// are stripped first.
func (l *Labeler) mapLabel(raw string) entity.Label {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if len(name) > 2 && (name[:2] == "B-" || name[:2] == "I-") {
		name = name[2:]
	}
	if label, ok := oracleLabels[name]; ok {
		return label
	}
	if l.cfg.UnknownLabels == UnknownPassThrough && name != "" {
		return entity.Label(name)
	}
	return entity.Misc
}
