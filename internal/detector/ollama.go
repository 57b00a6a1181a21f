package detector

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 -- MD5 used as a cache key, not for security
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"text-anonymizer/internal/cache"
	"text-anonymizer/internal/logger"
)

const (
	// DefaultOracleCacheSize is the number of chunk results an OllamaOracle
	// keeps when no size is configured.
	DefaultOracleCacheSize = 10_000

	maxOllamaResponse = 10 << 20 // 10 MB
)

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaDetection struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// OllamaOracle is an Oracle backed by a local Ollama model. The model is asked
// for the entity strings it sees; each occurrence of a string in the text
// becomes one span, so offsets never depend on the model counting characters.
//
// Results are cached per chunk text (S3-FIFO eviction) and concurrent model
// calls are bounded by a semaphore.
type OllamaOracle struct {
	url    string
	model  string
	client *http.Client
	log    *logger.Logger

	sem   chan struct{}
	cache *cache.S3FIFO[[]OracleSpan] // keyed by md5(text)
}

// NewOllamaOracle creates an oracle for the Ollama server at endpoint.
// maxConcurrent < 1 is treated as 1; cacheSize < 1 selects
// DefaultOracleCacheSize.
func NewOllamaOracle(endpoint, model string, maxConcurrent, cacheSize int, log *logger.Logger) *OllamaOracle {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if cacheSize < 1 {
		cacheSize = DefaultOracleCacheSize
	}
	return &OllamaOracle{
		url:    strings.TrimRight(endpoint, "/") + "/api/generate",
		model:  model,
		client: &http.Client{},
		log:    log,
		sem:    make(chan struct{}, maxConcurrent),
		cache:  cache.New[[]OracleSpan](cacheSize),
	}
}

// Label implements Oracle.
func (o *OllamaOracle) Label(ctx context.Context, text string) ([]OracleSpan, error) {
	key := fmt.Sprintf("%x", md5.Sum([]byte(text))) // #nosec G401 -- cache key, not crypto

	if cached, hit := o.cache.Get(key); hit {
		o.log.Debugf("oracle_cache_hit", "%d spans for %d bytes", len(cached), len(text))
		return append([]OracleSpan(nil), cached...), nil
	}

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for ollama slot")
	}

	detections, err := o.query(ctx, text)
	if err != nil {
		return nil, err
	}
	spans := locate(text, detections)
	o.cache.Set(key, spans)
	o.log.Debugf("oracle_cache_store", "%d spans for %d bytes, %d chunks cached", len(spans), len(text), o.cache.Len())
	return append([]OracleSpan(nil), spans...), nil
}

// query calls the Ollama generate API and parses the model's JSON answer.
func (o *OllamaOracle) query(ctx context.Context, text string) ([]ollamaDetection, error) {
	prompt := fmt.Sprintf(`Find the named entities in the following text.
Return ONLY a JSON array. Each item must have:
- "text": the entity exactly as it appears in the text
- "label": one of PERSON, ORGANIZATION, LOCATION, MISCELLANEOUS
- "score": your confidence, a float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"text":"John Smith","label":"PERSON","score":0.95}]`,
		text)

	reqBody, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, errors.Wrap(err, "encode ollama request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "create ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, errors.Wrap(err, "ollama request")
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("ollama returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse+1))
	if err != nil {
		return nil, errors.Wrap(err, "read ollama response")
	}
	if int64(len(body)) > maxOllamaResponse {
		return nil, errors.Errorf("ollama response larger than %d bytes", maxOllamaResponse)
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, errors.Wrap(err, "ollama response parse error")
	}

	// Extract the JSON array from the model's text response
	raw := strings.TrimSpace(ollamaResp.Response)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, errors.New("no JSON array in ollama response")
	}

	var detections []ollamaDetection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, errors.Wrap(err, "detection parse error")
	}
	return detections, nil
}

// locate turns model detections into spans by finding every occurrence of
// each detected string in text. Strings the model invented are dropped.
func locate(text string, detections []ollamaDetection) []OracleSpan {
	var spans []OracleSpan
	seen := make(map[string]bool, len(detections))
	for _, d := range detections {
		needle := strings.TrimSpace(d.Text)
		if needle == "" || seen[needle+"\x00"+d.Label] {
			continue
		}
		seen[needle+"\x00"+d.Label] = true
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], needle)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, OracleSpan{Label: d.Label, Start: start, End: start + len(needle), Score: d.Score})
			from = start + len(needle)
		}
	}
	return spans
}
