// Package config loads and holds the anonymizer configuration.
// Settings come from built-in defaults, then anonymizer-config.json, then a
// .env file, then environment variables; later sources win.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"text-anonymizer/internal/chunker"
	"text-anonymizer/internal/detector"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
)

// DefaultFile is the config file read when no other path is given.
const DefaultFile = "anonymizer-config.json"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the full anonymizer configuration.
type Config struct {
	LogLevel string `json:"logLevel"`

	TokenChunkSize    int `json:"tokenChunkSize"`
	TokenChunkOverlap int `json:"tokenChunkOverlap"`
	RegexChunkSize    int `json:"regexChunkSize"`
	RegexChunkOverlap int `json:"regexChunkOverlap"`
	Workers           int `json:"workers"`

	UseNER               bool    `json:"useNER"`
	ConfidenceThreshold  float64 `json:"confidenceThreshold"`
	OllamaEndpoint       string  `json:"ollamaEndpoint"`
	OllamaModel          string  `json:"ollamaModel"`
	OllamaMaxConcurrent  int     `json:"ollamaMaxConcurrent"`
	OracleTimeoutSeconds int     `json:"oracleTimeoutSeconds"`
	OracleCacheSize      int     `json:"oracleCacheSize"`
	UnknownLabelPolicy   string  `json:"unknownLabelPolicy"`

	SupportedLabels       []string `json:"supportedLabels"`
	MaxPlaceholderRetries int      `json:"maxPlaceholderRetries"`

	StorePath string `json:"storePath"`

	BindAddress     string `json:"bindAddress"`
	Port            int    `json:"port"`
	APIToken        string `json:"apiToken"`
	MaxRequestBytes int64  `json:"maxRequestBytes"`
}

// Load returns config with defaults overridden by the JSON file at path, a
// .env file in the working directory and environment variables. A missing
// file is not an error. The result is validated.
func Load(path string, log *logger.Logger) (*Config, error) {
	cfg := defaults()
	if err := loadFile(cfg, path, log); err != nil {
		return nil, err
	}
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err == nil {
		log.Debug("config", "loaded .env")
	}
	loadEnv(cfg, log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel:              "info",
		TokenChunkSize:        chunker.DefaultTokenWindow,
		TokenChunkOverlap:     chunker.DefaultTokenOverlap,
		RegexChunkSize:        chunker.DefaultRegexChunkSize,
		RegexChunkOverlap:     chunker.DefaultRegexOverlap,
		Workers:               4,
		UseNER:                true,
		ConfidenceThreshold:   detector.DefaultThreshold,
		OllamaEndpoint:        "http://localhost:11434",
		OllamaModel:           "qwen2.5:3b",
		OllamaMaxConcurrent:   1,
		OracleTimeoutSeconds:  30,
		OracleCacheSize:       detector.DefaultOracleCacheSize,
		UnknownLabelPolicy:    string(detector.UnknownAsMisc),
		SupportedLabels:       labelNames(entity.AllLabels),
		MaxPlaceholderRetries: 0,
		StorePath:             "anonymizer.db",
		BindAddress:           "127.0.0.1",
		Port:                  8081,
		MaxRequestBytes:       10 << 20,
	}
}

func labelNames(labels []entity.Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func loadFile(cfg *Config, path string, log *logger.Logger) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // file is optional
		}
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	log.Debugf("config", "loaded %s", path)
	return nil
}

func loadEnv(cfg *Config, log *logger.Logger) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Warnf("config", "ignoring %s=%q: not an integer", name, v)
				return
			}
			*dst = n
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	num("TOKEN_CHUNK_SIZE", &cfg.TokenChunkSize)
	num("TOKEN_CHUNK_OVERLAP", &cfg.TokenChunkOverlap)
	num("REGEX_CHUNK_SIZE", &cfg.RegexChunkSize)
	num("REGEX_CHUNK_OVERLAP", &cfg.RegexChunkOverlap)
	num("WORKERS", &cfg.Workers)
	if v := os.Getenv("USE_NER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Warnf("config", "ignoring USE_NER=%q: not a boolean", v)
		} else {
			cfg.UseNER = b
		}
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Warnf("config", "ignoring CONFIDENCE_THRESHOLD=%q: not a number", v)
		} else {
			cfg.ConfidenceThreshold = f
		}
	}
	str("OLLAMA_ENDPOINT", &cfg.OllamaEndpoint)
	str("OLLAMA_MODEL", &cfg.OllamaModel)
	num("OLLAMA_MAX_CONCURRENT", &cfg.OllamaMaxConcurrent)
	num("ORACLE_TIMEOUT_SECONDS", &cfg.OracleTimeoutSeconds)
	num("ORACLE_CACHE_SIZE", &cfg.OracleCacheSize)
	str("UNKNOWN_LABEL_POLICY", &cfg.UnknownLabelPolicy)
	if v := os.Getenv("SUPPORTED_LABELS"); v != "" {
		cfg.SupportedLabels = strings.Split(v, ",")
	}
	num("MAX_PLACEHOLDER_RETRIES", &cfg.MaxPlaceholderRetries)
	str("STORE_PATH", &cfg.StorePath)
	str("BIND_ADDRESS", &cfg.BindAddress)
	num("PORT", &cfg.Port)
	str("API_TOKEN", &cfg.APIToken)
	if v := os.Getenv("MAX_REQUEST_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Warnf("config", "ignoring MAX_REQUEST_BYTES=%q: not an integer", v)
		} else {
			cfg.MaxRequestBytes = n
		}
	}
}

// Validate reports the first bad value, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}
	switch {
	case c.TokenChunkSize < 1 || c.TokenChunkSize > chunker.TokenWindowCap:
		return invalid("tokenChunkSize %d: must be in [1, %d]", c.TokenChunkSize, chunker.TokenWindowCap)
	case c.TokenChunkOverlap < 0:
		return invalid("tokenChunkOverlap %d: must not be negative", c.TokenChunkOverlap)
	case c.RegexChunkSize < 1:
		return invalid("regexChunkSize %d: must be positive", c.RegexChunkSize)
	case c.RegexChunkOverlap < 0:
		return invalid("regexChunkOverlap %d: must not be negative", c.RegexChunkOverlap)
	case c.Workers < 1:
		return invalid("workers %d: must be positive", c.Workers)
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return invalid("confidenceThreshold %g: must be in [0, 1]", c.ConfidenceThreshold)
	case c.UseNER && c.OllamaEndpoint == "":
		return invalid("ollamaEndpoint is required when useNER is set")
	case c.OllamaMaxConcurrent < 1:
		return invalid("ollamaMaxConcurrent %d: must be positive", c.OllamaMaxConcurrent)
	case c.OracleTimeoutSeconds < 0:
		return invalid("oracleTimeoutSeconds %d: must not be negative", c.OracleTimeoutSeconds)
	case c.OracleCacheSize < 0:
		return invalid("oracleCacheSize %d: must not be negative", c.OracleCacheSize)
	case c.MaxPlaceholderRetries < 0:
		return invalid("maxPlaceholderRetries %d: must not be negative", c.MaxPlaceholderRetries)
	case c.Port < 1 || c.Port > 65535:
		return invalid("port %d: must be in [1, 65535]", c.Port)
	case c.MaxRequestBytes < 1:
		return invalid("maxRequestBytes %d: must be positive", c.MaxRequestBytes)
	}
	if _, err := detector.ParseUnknownLabelPolicy(c.UnknownLabelPolicy); err != nil {
		return invalid("unknownLabelPolicy: %v", err)
	}
	if len(c.SupportedLabels) == 0 {
		return invalid("supportedLabels must not be empty")
	}
	if _, err := entity.ParseLabelSet(c.SupportedLabels); err != nil {
		return invalid("supportedLabels: %v", err)
	}
	return nil
}

// Labels returns the supported label set. Call only on a validated Config.
func (c *Config) Labels() entity.LabelSet {
	s, _ := entity.ParseLabelSet(c.SupportedLabels)
	return s
}

// UnknownLabels returns the unknown-label policy. Call only on a validated
// Config.
func (c *Config) UnknownLabels() detector.UnknownLabelPolicy {
	p, _ := detector.ParseUnknownLabelPolicy(c.UnknownLabelPolicy)
	return p
}

// OracleTimeout returns the per-chunk oracle timeout; zero means none.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSeconds) * time.Second
}
