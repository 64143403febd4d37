// Package config provides the configuration schema and loader for the
// telling voice-counting service.
package config

import "time"

// LogLevel controls log verbosity for the telling server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for telling.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Matching MatchingConfig `yaml:"matching"`
	Rebuild  RebuildConfig  `yaml:"rebuild"`
	Upload   UploadConfig   `yaml:"upload"`
	Site     SiteConfig     `yaml:"site"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health endpoint listens on
	// (e.g., ":9090"). Empty disables the HTTP listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DataConfig locates the two document roots the persistence layer works
// against.
type DataConfig struct {
	// SharedDir is the team-visible document root holding the alias master
	// list and the shared index cache.
	SharedDir string `yaml:"shared_dir"`

	// PrivateDir is the per-device document root holding the private index
	// cache and the observation buffer database.
	PrivateDir string `yaml:"private_dir"`
}

// MatchingConfig tunes the fuzzy matcher and the decision policy.
// Zero values mean "use the built-in default".
type MatchingConfig struct {
	// FuzzyThreshold is the minimum raw match score for a fuzzy candidate.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// AcceptThreshold is the combined score above which a unique candidate
	// is auto-accepted.
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// AmbiguityGap is the minimum top1–top2 score gap for an unambiguous
	// decision.
	AmbiguityGap float64 `yaml:"ambiguity_gap"`

	// TopN caps the number of fuzzy candidates per hypothesis.
	TopN int `yaml:"top_n"`

	// HypothesisWeight blends recognizer confidence into the combined score.
	HypothesisWeight float64 `yaml:"hypothesis_weight"`

	// LeadingPrefix is a provenance token stripped from the front of every
	// hypothesis (e.g. a wake word). Empty disables stripping.
	LeadingPrefix string `yaml:"leading_prefix"`
}

// RebuildConfig tunes the debounced index rebuild.
type RebuildConfig struct {
	// DebounceSeconds is the quiet period after an alias mutation before the
	// index is rebuilt. Zero means the built-in default of 30 seconds.
	DebounceSeconds int `yaml:"debounce_seconds"`

	// WatchIntervalSeconds is the polling interval for detecting master list
	// changes made by other devices. Zero means the built-in default.
	WatchIntervalSeconds int `yaml:"watch_interval_seconds"`
}

// UploadConfig tunes the background observation upload worker.
type UploadConfig struct {
	// Enabled turns the upload worker on. Observations accumulate locally
	// when disabled.
	Enabled bool `yaml:"enabled"`

	// IntervalSeconds is the drain interval. Zero means the built-in default.
	IntervalSeconds int `yaml:"interval_seconds"`

	// BatchSize is the maximum observations per upload batch.
	BatchSize int `yaml:"batch_size"`
}

// SiteConfig scopes interpretation to the current count location.
type SiteConfig struct {
	// Name is a human-readable site label used in logs.
	Name string `yaml:"name"`

	// AllowedSpeciesIDs restricts matches to the listed species.
	// Empty means no site restriction.
	AllowedSpeciesIDs []string `yaml:"allowed_species_ids"`
}

// Debounce returns the rebuild debounce as a duration, or 0 when unset so
// the persistence layer default applies.
func (r RebuildConfig) Debounce() time.Duration {
	return time.Duration(r.DebounceSeconds) * time.Second
}

// WatchInterval returns the master-list polling interval as a duration, or 0
// when unset.
func (r RebuildConfig) WatchInterval() time.Duration {
	return time.Duration(r.WatchIntervalSeconds) * time.Second
}

// Interval returns the upload drain interval as a duration, or 0 when unset.
func (u UploadConfig) Interval() time.Duration {
	return time.Duration(u.IntervalSeconds) * time.Second
}
