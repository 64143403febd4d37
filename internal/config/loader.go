package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

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

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Data.SharedDir == "" {
		errs = append(errs, errors.New("data.shared_dir is required"))
	}
	if cfg.Data.PrivateDir == "" {
		errs = append(errs, errors.New("data.private_dir is required"))
	}

	checkUnit := func(field string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("matching.%s %.2f is out of range [0, 1]", field, v))
		}
	}
	checkUnit("fuzzy_threshold", cfg.Matching.FuzzyThreshold)
	checkUnit("accept_threshold", cfg.Matching.AcceptThreshold)
	checkUnit("ambiguity_gap", cfg.Matching.AmbiguityGap)
	checkUnit("hypothesis_weight", cfg.Matching.HypothesisWeight)
	if cfg.Matching.TopN < 0 {
		errs = append(errs, fmt.Errorf("matching.top_n %d is negative", cfg.Matching.TopN))
	}
	if cfg.Matching.AcceptThreshold != 0 && cfg.Matching.FuzzyThreshold > cfg.Matching.AcceptThreshold {
		errs = append(errs, fmt.Errorf("matching.fuzzy_threshold %.2f exceeds matching.accept_threshold %.2f",
			cfg.Matching.FuzzyThreshold, cfg.Matching.AcceptThreshold))
	}

	if cfg.Rebuild.DebounceSeconds < 0 {
		errs = append(errs, fmt.Errorf("rebuild.debounce_seconds %d is negative", cfg.Rebuild.DebounceSeconds))
	}
	if cfg.Rebuild.WatchIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("rebuild.watch_interval_seconds %d is negative", cfg.Rebuild.WatchIntervalSeconds))
	}

	if cfg.Upload.IntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("upload.interval_seconds %d is negative", cfg.Upload.IntervalSeconds))
	}
	if cfg.Upload.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("upload.batch_size %d is negative", cfg.Upload.BatchSize))
	}
	if cfg.Upload.Enabled && cfg.Upload.IntervalSeconds == 0 {
		slog.Warn("upload.interval_seconds not set; using the built-in default")
	}

	seen := make(map[string]int, len(cfg.Site.AllowedSpeciesIDs))
	for i, id := range cfg.Site.AllowedSpeciesIDs {
		if id == "" {
			errs = append(errs, fmt.Errorf("site.allowed_species_ids[%d] is blank", i))
			continue
		}
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("site.allowed_species_ids[%d] %q is a duplicate of entry %d", i, id, prev))
		}
		seen[id] = i
	}

	return errors.Join(errs...)
}
