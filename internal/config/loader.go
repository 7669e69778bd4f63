package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised provider names without rejecting third-party ones.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock",
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
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Misconfigured thresholds fail here, before any resolution traffic runs.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Store backend
	if cfg.Store.Kind != "" && !cfg.Store.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("store.kind %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Kind))
	}
	if cfg.Store.Kind == StoreSQLite && cfg.Store.SQLitePath == "" {
		errs = append(errs, errors.New("store.sqlite_path is required when store.kind is sqlite"))
	}
	if cfg.Store.Kind == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.kind is postgres"))
	}

	// Resolver thresholds
	r := cfg.Resolver
	if r.MatchThreshold < 0 || r.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("resolver.match_threshold %.3f is out of range (0, 1]", r.MatchThreshold))
	}
	if r.AmbiguityMargin != nil && (*r.AmbiguityMargin < 0 || *r.AmbiguityMargin >= 1) {
		errs = append(errs, fmt.Errorf("resolver.ambiguity_margin %.3f is out of range [0, 1)", *r.AmbiguityMargin))
	}
	if r.PhoneticWeight != nil && (*r.PhoneticWeight < 0 || *r.PhoneticWeight > 1) {
		errs = append(errs, fmt.Errorf("resolver.phonetic_weight %.3f is out of range [0, 1]", *r.PhoneticWeight))
	}
	// Cross-check on effective values: a margin at or above the acceptance
	// threshold would make every scored match ambiguous.
	if r.Margin() >= r.Threshold() {
		errs = append(errs, fmt.Errorf("resolver.ambiguity_margin %.3f must be less than match_threshold %.3f", r.Margin(), r.Threshold()))
	}

	// Abbreviation table
	for key, expansion := range cfg.Abbreviations {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, errors.New("abbreviations contains an empty key"))
			continue
		}
		if strings.TrimSpace(expansion) == "" {
			errs = append(errs, fmt.Errorf("abbreviations[%q] has an empty expansion", key))
		}
	}

	// Extractor
	validateProviderName("extractor.provider", cfg.Extractor.Provider.Name)
	validateProviderName("extractor.fallback", cfg.Extractor.Fallback.Name)
	if cfg.Extractor.Fallback.Name != "" && cfg.Extractor.Provider.Name == "" {
		errs = append(errs, errors.New("extractor.fallback is set but extractor.provider is not configured"))
	}
	if cfg.Extractor.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("extractor.requests_per_minute %d must not be negative", cfg.Extractor.RequestsPerMinute))
	}
	if cfg.Extractor.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("extractor.breaker.max_failures %d must not be negative", cfg.Extractor.Breaker.MaxFailures))
	}
	if cfg.Extractor.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("extractor.breaker.reset_timeout must not be negative"))
	}
	if cfg.Extractor.Provider.Name == "" {
		slog.Warn("no extractor provider configured; reports must carry pre-extracted mentions")
	}

	// Pipeline
	if cfg.Pipeline.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency %d must not be negative", cfg.Pipeline.Concurrency))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
