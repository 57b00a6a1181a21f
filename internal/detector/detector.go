// Package detector finds sensitive spans in a document.
//
// Detection runs two detectors over differently chunked views of the same
// text:
//  1. A regex pass (PatternMatcher) for structured entities: email, phone, URL.
//  2. A span-labeling pass (Labeler) that feeds token-bounded chunks to an
//     external model for names, organizations and locations.
//
// Every chunk is independent: a worker reads only its chunk and writes only
// its own result slot. Resolution (duplicate collapse and overlap handling)
// runs once, after all chunks of both detectors have finished.
package detector

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"text-anonymizer/internal/chunker"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
)

// Config sizes the chunkers and the worker pool. Zero values select the
// chunker defaults; Workers < 1 means one worker.
type Config struct {
	TokenChunkSize    int
	TokenChunkOverlap int
	RegexChunkSize    int
	RegexChunkOverlap int
	Workers           int
	Tokenizer         chunker.Tokenizer // nil selects chunker.WordTokenizer
}

// DefaultConfig returns the default chunking parameters.
func DefaultConfig() Config {
	return Config{
		TokenChunkSize:    chunker.DefaultTokenWindow,
		TokenChunkOverlap: chunker.DefaultTokenOverlap,
		RegexChunkSize:    chunker.DefaultRegexChunkSize,
		RegexChunkOverlap: chunker.DefaultRegexOverlap,
		Workers:           4,
	}
}

// Detector orchestrates chunking, both detectors and resolution.
type Detector struct {
	cfg      Config
	patterns *PatternMatcher
	labeler  *Labeler
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New builds a Detector. labeler may be nil, in which case only patterns run.
// m may be nil.
func New(cfg Config, labeler *Labeler, log *logger.Logger, m *metrics.Metrics) *Detector {
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = chunker.WordTokenizer{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Detector{
		cfg:      cfg,
		patterns: NewPatternMatcher(log),
		labeler:  labeler,
		log:      log,
		metrics:  m,
	}
}

// Detect returns the resolved, non-overlapping spans of text ordered by
// start offset. Oracle failures on individual chunks are tolerated; the only
// error returned is the context's.
func (d *Detector) Detect(ctx context.Context, text string) ([]entity.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	began := time.Now()

	regexChunks := chunker.RegexSafeChunks(text, d.cfg.RegexChunkSize, d.cfg.RegexChunkOverlap)
	var tokenChunks []entity.Chunk
	if d.labeler != nil {
		tokenChunks = chunker.TokenChunks(text, d.cfg.Tokenizer, d.cfg.TokenChunkSize, d.cfg.TokenChunkOverlap)
	}
	d.log.Infof("chunking", "%d regex chunks, %d token chunks for %d bytes",
		len(regexChunks), len(tokenChunks), len(text))

	results := make([][]entity.Span, len(regexChunks)+len(tokenChunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, c := range regexChunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = d.patterns.Match(c)
			d.log.Debugf("regex_chunk", "chunk %d/%d (offset %d): %d spans", i+1, len(regexChunks), c.Offset, len(results[i]))
			return nil
		})
	}
	for j, c := range tokenChunks {
		slot := len(regexChunks) + j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[slot] = d.labeler.Label(gctx, c)
			d.log.Debugf("ner_chunk", "chunk %d/%d (offset %d): %d spans", j+1, len(tokenChunks), c.Offset, len(results[slot]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "detect entities")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "detect entities")
	}

	var raw []entity.Span
	for _, r := range results {
		raw = append(raw, r...)
	}
	res := Resolve(raw)

	if d.metrics != nil {
		d.metrics.RegexChunks.Add(int64(len(regexChunks)))
		d.metrics.TokenChunks.Add(int64(len(tokenChunks)))
		d.metrics.SpansDetected.Add(int64(len(raw)))
		d.metrics.DuplicatesFound.Add(int64(res.Duplicates))
		d.metrics.OverlapsRemoved.Add(int64(res.Overlaps))
		d.metrics.RecordDetectLatency(time.Since(began))
	}
	d.log.Infof("resolve", "%d raw spans, %d exact duplicates, %d overlaps removed, %d kept",
		len(raw), res.Duplicates, res.Overlaps, len(res.Spans))
	return res.Spans, nil
}
