package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"local", "gemini", "openai"},
	"llm":        {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Corpus
	if cfg.Corpus.Path == "" && cfg.Corpus.PostgresDSN == "" {
		errs = append(errs, errors.New("corpus: either path or postgres_dsn must be set"))
	}
	if cfg.Corpus.Path != "" && cfg.Corpus.PostgresDSN != "" {
		slog.Warn("both corpus.path and corpus.postgres_dsn are set; the Postgres index takes precedence")
	}
	if cfg.Corpus.PostgresDSN != "" && cfg.Corpus.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("corpus.embedding_dimensions must be set for the Postgres index"))
	}
	if cfg.Corpus.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("corpus.refresh_interval %v must not be negative", cfg.Corpus.RefreshInterval))
	}
	if cfg.Corpus.RefreshInterval > 0 && cfg.Corpus.PostgresDSN != "" {
		slog.Warn("corpus.refresh_interval is ignored for the Postgres index")
	}

	// Providers
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.Embeddings.Timeout < 0 {
		errs = append(errs, fmt.Errorf("providers.embeddings.timeout %v must not be negative", cfg.Providers.Embeddings.Timeout))
	}
	if cfg.Providers.LLM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("providers.llm.timeout %v must not be negative", cfg.Providers.LLM.Timeout))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; every mapping will use the similarity-only fallback scorer")
	}

	// Adjudicator
	if cfg.Adjudicator.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("adjudicator.max_retries %d must not be negative", cfg.Adjudicator.MaxRetries))
	}
	if cfg.Adjudicator.Temperature < 0 || cfg.Adjudicator.Temperature > 2 {
		errs = append(errs, fmt.Errorf("adjudicator.temperature %.2f is out of range [0, 2]", cfg.Adjudicator.Temperature))
	}
	if cfg.Adjudicator.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("adjudicator.max_output_tokens %d must not be negative", cfg.Adjudicator.MaxOutputTokens))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
