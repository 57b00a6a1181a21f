package anonymizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"text-anonymizer/internal/detector"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/mapper"
	"text-anonymizer/internal/metrics"
	"text-anonymizer/internal/report"
	"text-anonymizer/internal/store"
)

// ServiceConfig selects what a Service substitutes.
type ServiceConfig struct {
	Supported  entity.LabelSet // nil means DefaultSupportedLabels
	MaxRetries int             // placeholder retry ceiling, 0 = unbounded
}

// Service runs the whole pipeline: detect, map, substitute, persist.
type Service struct {
	detector *detector.Detector
	store    store.MappingStore
	cfg      ServiceConfig
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// Result is one anonymized document and its session.
type Result struct {
	SessionID string
	Original  string
	Text      string
	Entities  []entity.Span
	Pairs     []mapper.Pair
	Stats     report.Statistics
}

// NewService wires a Service. st may be nil, in which case sessions are not
// persisted and Restore always fails. m may be nil.
func NewService(det *detector.Detector, st store.MappingStore, cfg ServiceConfig, log *logger.Logger, m *metrics.Metrics) *Service {
	if cfg.Supported == nil {
		cfg.Supported = DefaultSupportedLabels
	}
	return &Service{detector: det, store: st, cfg: cfg, log: log, metrics: m}
}

func (s *Service) newMapper() *mapper.Mapper {
	return mapper.New(mapper.WithMaxRetries(s.cfg.MaxRetries), mapper.WithMetrics(s.metrics))
}

// Process anonymizes text under a fresh session.
func (s *Service) Process(ctx context.Context, text string) (*Result, error) {
	began := time.Now()
	sessionID := uuid.NewString()

	spans, err := s.detector.Detect(ctx, text)
	if err != nil {
		return nil, err
	}

	substBegan := time.Now()
	m := s.newMapper()
	out, err := Anonymize(text, spans, m, s.cfg.Supported)
	if err != nil {
		return nil, errors.Wrapf(err, "session %s", sessionID)
	}
	s.recordSubstitution(out.Entities, time.Since(substBegan))

	res := &Result{
		SessionID: sessionID,
		Original:  text,
		Text:      out.Text,
		Entities:  out.Entities,
		Pairs:     m.Pairs(),
	}
	if err := s.finish(res, began); err != nil {
		return nil, err
	}
	s.log.Infof("anonymize", "session %s: %d entities, %d placeholders, %d skipped",
		sessionID, len(out.Entities), m.Len(), out.Skipped)
	return res, nil
}

// ProcessJSON anonymizes every string value of a JSON document under one
// session, so a value repeated across fields gets one placeholder. Object keys
// are left alone. Input that is not JSON is processed as plain text.
//
// Every string value is registered with the session mapper before the first
// placeholder is assigned, so no placeholder equals text found anywhere in the
// document. Numbers keep their exact literal form.
//
// Entity offsets in the result are relative to the string value they were
// found in. Object keys of the re-encoded document come out sorted.
func (s *Service) ProcessJSON(ctx context.Context, body []byte) (*Result, error) {
	doc, err := decodeJSON(body)
	if err != nil {
		s.log.Debug("anonymize_json", "body is not JSON, processing as text")
		return s.Process(ctx, string(body))
	}
	began := time.Now()
	sessionID := uuid.NewString()
	m := s.newMapper()
	_, _ = walkStrings(doc, func(leaf string) (string, error) {
		m.AddDocument(leaf)
		return leaf, nil
	})

	var entities []entity.Span
	var substTime time.Duration
	walked, err := walkStrings(doc, func(leaf string) (string, error) {
		spans, err := s.detector.Detect(ctx, leaf)
		if err != nil {
			return "", err
		}
		t := time.Now()
		out, err := Anonymize(leaf, spans, m, s.cfg.Supported)
		substTime += time.Since(t)
		if err != nil {
			return "", errors.Wrapf(err, "session %s", sessionID)
		}
		entities = append(entities, out.Entities...)
		return out.Text, nil
	})
	if err != nil {
		return nil, err
	}
	s.recordSubstitution(entities, substTime)

	encoded, err := encodeJSON(walked)
	if err != nil {
		return nil, err
	}
	res := &Result{
		SessionID: sessionID,
		Original:  string(body),
		Text:      encoded,
		Entities:  entities,
		Pairs:     m.Pairs(),
	}
	if err := s.finish(res, began); err != nil {
		return nil, err
	}
	s.log.Infof("anonymize_json", "session %s: %d entities, %d placeholders",
		sessionID, len(entities), m.Len())
	return res, nil
}

// finish computes statistics and persists the session.
func (s *Service) finish(res *Result, began time.Time) error {
	res.Stats = report.Build(res.Entities, len(res.Pairs))
	res.Stats.Elapsed = time.Since(began)
	if s.store != nil {
		if err := s.store.Save(res.SessionID, res.Pairs); err != nil {
			return err
		}
	}
	if s.metrics != nil {
		s.metrics.DocumentsProcessed.Add(1)
	}
	return nil
}

func (s *Service) recordSubstitution(spans []entity.Span, d time.Duration) {
	if s.metrics == nil {
		return
	}
	for _, sp := range spans {
		s.metrics.RecordSubstitution(sp.Label)
	}
	s.metrics.RecordSubstituteLatency(d)
}

// Restore reverses text using the mapping saved for sessionID.
func (s *Service) Restore(sessionID, text string) (string, error) {
	mapping, err := s.sessionMapping(sessionID)
	if err != nil {
		return "", err
	}
	return s.restore(text, mapping), nil
}

// RestoreJSON reverses every string value of a JSON document produced by
// ProcessJSON. Input that is not JSON is restored as plain text.
func (s *Service) RestoreJSON(sessionID string, body []byte) (string, error) {
	mapping, err := s.sessionMapping(sessionID)
	if err != nil {
		return "", err
	}
	doc, err := decodeJSON(body)
	if err != nil {
		return s.restore(string(body), mapping), nil
	}
	walked, _ := walkStrings(doc, func(leaf string) (string, error) {
		return Deanonymize(leaf, mapping), nil
	})
	if s.metrics != nil {
		s.metrics.Deanonymized.Add(1)
	}
	return encodeJSON(walked)
}

func (s *Service) sessionMapping(sessionID string) (map[string]string, error) {
	if s.store == nil {
		return nil, errors.Wrapf(store.ErrSessionNotFound, "session %q: no store configured", sessionID)
	}
	pairs, err := s.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	return report.Mapping(pairs), nil
}

func (s *Service) restore(text string, mapping map[string]string) string {
	if s.metrics != nil {
		s.metrics.Deanonymized.Add(1)
	}
	return Deanonymize(text, mapping)
}

// walkStrings rewrites the string leaves of a JSON-decoded value in place.
// Object members are visited in key order so placeholder numbering is stable.
func walkStrings(v any, fn func(string) (string, error)) (any, error) {
	switch val := v.(type) {
	case string:
		return fn(val)
	case []any:
		for i, item := range val {
			w, err := walkStrings(item, fn)
			if err != nil {
				return nil, err
			}
			val[i] = w
		}
		return val, nil
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(val)) {
			w, err := walkStrings(val[k], fn)
			if err != nil {
				return nil, err
			}
			val[k] = w
		}
		return val, nil
	}
	return v, nil
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number
// so large integers survive re-encoding.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode JSON")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode JSON: trailing data after value")
	}
	return doc, nil
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", errors.Wrap(err, "encode JSON")
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
