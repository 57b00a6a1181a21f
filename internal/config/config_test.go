package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text-anonymizer/internal/detector"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 400, cfg.TokenChunkSize)
	assert.Equal(t, 25, cfg.TokenChunkOverlap)
	assert.Equal(t, 5000, cfg.RegexChunkSize)
	assert.Equal(t, 200, cfg.RegexChunkOverlap)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.UseNER)
	assert.Equal(t, 0.8, cfg.ConfidenceThreshold)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaEndpoint)
	assert.Equal(t, 1, cfg.OllamaMaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.OracleTimeout())
	assert.Equal(t, detector.UnknownAsMisc, cfg.UnknownLabels())
	assert.Len(t, cfg.Labels(), len(entity.AllLabels))
	assert.Zero(t, cfg.MaxPlaceholderRetries)
	assert.Equal(t, "anonymizer.db", cfg.StorePath)
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, 8081, cfg.Port)
	assert.Empty(t, cfg.APIToken)
	assert.EqualValues(t, 10<<20, cfg.MaxRequestBytes)
	assert.NoError(t, cfg.Validate())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "anonymizer-config.json", `{
		"tokenChunkSize": 128,
		"useNER": false,
		"supportedLabels": ["per", "EMAIL"],
		"unknownLabelPolicy": "passthrough"
	}`)

	cfg, err := Load(path, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.TokenChunkSize)
	assert.False(t, cfg.UseNER)
	assert.Equal(t, entity.NewLabelSet(entity.Person, entity.Email), cfg.Labels())
	assert.Equal(t, detector.UnknownPassThrough, cfg.UnknownLabels())
	assert.Equal(t, 200, cfg.RegexChunkOverlap, "unset keys keep defaults")
}

func TestLoadMissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"), logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.TokenChunkSize)
}

func TestLoadBadJSON(t *testing.T) {
	_, err := Load(writeFile(t, "bad.json", `{"workers": "four"}`), logger.Nop())
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "c.json", `{"workers": 2, "ollamaModel": "from-file"}`)
	t.Setenv("WORKERS", "8")
	t.Setenv("OLLAMA_MODEL", "from-env")
	t.Setenv("USE_NER", "false")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.65")
	t.Setenv("SUPPORTED_LABELS", "PER, ORG")
	t.Setenv("MAX_PLACEHOLDER_RETRIES", "50")
	t.Setenv("STORE_PATH", "")
	t.Setenv("PORT", "9090")
	t.Setenv("API_TOKEN", "secret")

	cfg, err := Load(path, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "from-env", cfg.OllamaModel)
	assert.False(t, cfg.UseNER)
	assert.Equal(t, 0.65, cfg.ConfidenceThreshold)
	assert.Equal(t, entity.NewLabelSet(entity.Person, entity.Organization), cfg.Labels())
	assert.Equal(t, 50, cfg.MaxPlaceholderRetries)
	assert.Equal(t, "anonymizer.db", cfg.StorePath, "empty variables are ignored")
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "secret", cfg.APIToken)
}

func TestLoadEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("WORKERS", "lots")
	t.Setenv("USE_NER", "maybe")
	cfg := defaults()
	loadEnv(cfg, logger.Nop())
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.UseNER)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"token window too large", func(c *Config) { c.TokenChunkSize = 401 }},
		{"token window zero", func(c *Config) { c.TokenChunkSize = 0 }},
		{"negative token overlap", func(c *Config) { c.TokenChunkOverlap = -1 }},
		{"regex size zero", func(c *Config) { c.RegexChunkSize = 0 }},
		{"negative regex overlap", func(c *Config) { c.RegexChunkOverlap = -5 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }},
		{"ner without endpoint", func(c *Config) { c.OllamaEndpoint = "" }},
		{"no ollama slots", func(c *Config) { c.OllamaMaxConcurrent = 0 }},
		{"negative timeout", func(c *Config) { c.OracleTimeoutSeconds = -1 }},
		{"negative cache", func(c *Config) { c.OracleCacheSize = -1 }},
		{"negative retries", func(c *Config) { c.MaxPlaceholderRetries = -1 }},
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"no request budget", func(c *Config) { c.MaxRequestBytes = 0 }},
		{"bad policy", func(c *Config) { c.UnknownLabelPolicy = "drop" }},
		{"no labels", func(c *Config) { c.SupportedLabels = nil }},
		{"unknown label", func(c *Config) { c.SupportedLabels = []string{"PER", "SSN"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := defaults()
	cfg.UseNER = false
	cfg.OllamaEndpoint = ""
	assert.NoError(t, cfg.Validate(), "endpoint only matters with NER")
}
