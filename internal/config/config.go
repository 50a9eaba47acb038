// Package config provides configuration types, defaults, and persistence for rostersync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/rostersync/internal/directory"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/poll"
	"github.com/zjrosen/rostersync/internal/reconcile"
	"github.com/zjrosen/rostersync/internal/registry"
	"github.com/zjrosen/rostersync/internal/report"
	"github.com/zjrosen/rostersync/internal/scheduler"
	"github.com/zjrosen/rostersync/internal/tracing"
)

// Config holds all rostersync configuration.
type Config struct {
	// DataFile is the registry snapshot path.
	DataFile string `mapstructure:"data_file"`

	// AdminIDs are the caller IDs allowed to run admin operations.
	// Hot-reloaded when the config file changes.
	AdminIDs []string `mapstructure:"admin_ids"`

	// CommunityTag is the text every member display name should contain.
	// Hot-reloaded when the config file changes.
	CommunityTag string `mapstructure:"community_tag"`

	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Persist   PersistConfig   `mapstructure:"persist"`
	Poll      PollConfig      `mapstructure:"poll"`
	API       APIConfig       `mapstructure:"api"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

// ReconcileConfig controls scheduled reconciliation passes.
type ReconcileConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	Pacing     time.Duration `mapstructure:"pacing"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// DirectoryConfig points the directory client at its upstream services.
type DirectoryConfig struct {
	UsersURL      string        `mapstructure:"users_url"`
	ThumbnailsURL string        `mapstructure:"thumbnails_url"`
	PresenceURL   string        `mapstructure:"presence_url"`
	FriendsURL    string        `mapstructure:"friends_url"`
	WebURL        string        `mapstructure:"web_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	// LookupCacheTTL memoizes ad-hoc lookups. Zero disables the cache.
	LookupCacheTTL time.Duration `mapstructure:"lookup_cache_ttl"`
}

// PersistConfig tunes registry writes.
type PersistConfig struct {
	// SettleDelay is the pause before a coalesced follow-up write.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// PollConfig bounds poll durations.
type PollConfig struct {
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	ResultTTL       time.Duration `mapstructure:"result_ttl"`
}

// APIConfig configures the admin HTTP API. An empty Addr disables it.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the logger. An empty Path logs to stderr.
type LogConfig struct {
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"`
}

// DirectoryClientConfig converts to the directory client's settings.
func (d DirectoryConfig) DirectoryClientConfig() directory.Config {
	return directory.Config{
		UsersURL:      d.UsersURL,
		ThumbnailsURL: d.ThumbnailsURL,
		PresenceURL:   d.PresenceURL,
		FriendsURL:    d.FriendsURL,
		WebURL:        d.WebURL,
		Timeout:       d.Timeout,
		MaxRetries:    d.MaxRetries,
		RetryDelay:    d.RetryDelay,
	}
}

// DefaultTracesFilePath returns ~/.config/rostersync/traces/traces.jsonl,
// or an empty string when the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rostersync", "traces", "traces.jsonl")
}

// Defaults returns the default configuration.
func Defaults() Config {
	dir := directory.DefaultConfig()
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()

	return Config{
		DataFile:     "data.json",
		CommunityTag: report.DefaultTag,
		Reconcile: ReconcileConfig{
			Interval:   scheduler.DefaultInterval,
			BatchSize:  reconcile.DefaultBatchSize,
			Pacing:     reconcile.DefaultPacing,
			RunOnStart: true,
		},
		Directory: DirectoryConfig{
			UsersURL:       dir.UsersURL,
			ThumbnailsURL:  dir.ThumbnailsURL,
			PresenceURL:    dir.PresenceURL,
			FriendsURL:     dir.FriendsURL,
			WebURL:         dir.WebURL,
			Timeout:        dir.Timeout,
			MaxRetries:     dir.MaxRetries,
			RetryDelay:     dir.RetryDelay,
			LookupCacheTTL: time.Minute,
		},
		Persist: PersistConfig{
			SettleDelay: registry.DefaultSettleDelay,
		},
		Poll: PollConfig{
			DefaultDuration: poll.DefaultDuration,
			MaxDuration:     24 * time.Hour,
			ResultTTL:       poll.DefaultResultTTL,
		},
		API: APIConfig{
			Addr: "127.0.0.1:8787",
		},
		Tracing: tr,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the whole configuration, returning the first problem found.
func Validate(cfg Config) error {
	if cfg.DataFile == "" {
		return fmt.Errorf("data_file is required")
	}
	for _, id := range cfg.AdminIDs {
		if !registry.ValidOwnerRef(id) {
			return fmt.Errorf("admin_ids entry %q must be 17-20 digits", id)
		}
	}
	if err := ValidateReconcile(cfg.Reconcile); err != nil {
		return err
	}
	if err := ValidateDirectory(cfg.Directory); err != nil {
		return err
	}
	if cfg.Persist.SettleDelay < 0 {
		return fmt.Errorf("persist.settle_delay must not be negative, got %v", cfg.Persist.SettleDelay)
	}
	if err := ValidatePoll(cfg.Poll); err != nil {
		return err
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", cfg.Log.Level)
	}
	return nil
}

// ValidateReconcile checks reconciliation tunables.
func ValidateReconcile(r ReconcileConfig) error {
	if r.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive, got %v", r.Interval)
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("reconcile.batch_size must be at least 1, got %d", r.BatchSize)
	}
	if r.Pacing < 0 {
		return fmt.Errorf("reconcile.pacing must not be negative, got %v", r.Pacing)
	}
	return nil
}

// ValidateDirectory checks upstream URLs and retry settings.
func ValidateDirectory(d DirectoryConfig) error {
	urls := []struct {
		key, value string
	}{
		{"directory.users_url", d.UsersURL},
		{"directory.thumbnails_url", d.ThumbnailsURL},
		{"directory.presence_url", d.PresenceURL},
		{"directory.friends_url", d.FriendsURL},
		{"directory.web_url", d.WebURL},
	}
	for _, u := range urls {
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", u.key, u.value)
		}
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("directory.timeout must be positive, got %v", d.Timeout)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("directory.max_retries must not be negative, got %d", d.MaxRetries)
	}
	if d.RetryDelay < 0 {
		return fmt.Errorf("directory.retry_delay must not be negative, got %v", d.RetryDelay)
	}
	if d.LookupCacheTTL < 0 {
		return fmt.Errorf("directory.lookup_cache_ttl must not be negative, got %v", d.LookupCacheTTL)
	}
	return nil
}

// ValidatePoll checks poll duration bounds.
func ValidatePoll(p PollConfig) error {
	if p.DefaultDuration <= 0 {
		return fmt.Errorf("poll.default_duration must be positive, got %v", p.DefaultDuration)
	}
	if p.MaxDuration < p.DefaultDuration {
		return fmt.Errorf("poll.max_duration (%v) must be at least poll.default_duration (%v)", p.MaxDuration, p.DefaultDuration)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	if tr.Exporter != "" {
		switch tr.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
		}
	}

	if tr.Enabled {
		if tr.Exporter == "file" && tr.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tr.Exporter == "otlp" && tr.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# rostersync configuration

# Registry snapshot file
data_file: data.json

# Caller IDs allowed to add, delete, reset and list members and to start polls.
# Changes are picked up without a restart.
admin_ids: []
#   - "123456789012345678"

# Members whose display name lacks this tag are reported (case-insensitive).
# Changes are picked up without a restart.
community_tag: PUFF

reconcile:
  interval: 2h          # Time between scheduled passes
  batch_size: 10        # Keys per batch
  pacing: 2s            # Delay after each directory call
  run_on_start: true    # Run a pass immediately at startup

directory:
  users_url: https://users.roblox.com/v1/usernames/users
  thumbnails_url: https://thumbnails.roblox.com/v1/users/avatar
  presence_url: https://presence.roblox.com/v1/presence/users
  friends_url: https://friends.roblox.com/v1/users
  web_url: https://www.roblox.com
  timeout: 10s
  max_retries: 5        # Retries after a rate-limit response
  retry_delay: 3s
  lookup_cache_ttl: 1m  # 0 disables lookup caching

persist:
  settle_delay: 25ms    # Pause before a coalesced follow-up write

poll:
  default_duration: 60s
  max_duration: 24h
  result_ttl: 1h        # How long closed poll results stay queryable

api:
  addr: 127.0.0.1:8787  # Empty disables the admin API

log:
  # path: /var/log/rostersync.log  # Empty logs to stderr
  level: info

# Distributed tracing (OpenTelemetry)
# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout, otlp
#   file_path: ~/.config/rostersync/traces/traces.jsonl
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
