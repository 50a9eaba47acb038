package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ROSTERSYNC_API_ADDR.
const EnvPrefix = "ROSTERSYNC"

// SetDefaults registers every key with its default value on v and enables
// environment overrides. Keys without a default are invisible to
// AutomaticEnv, so every tunable is listed here.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("data_file", d.DataFile)
	v.SetDefault("admin_ids", []string{})
	v.SetDefault("community_tag", d.CommunityTag)

	v.SetDefault("reconcile.interval", d.Reconcile.Interval)
	v.SetDefault("reconcile.batch_size", d.Reconcile.BatchSize)
	v.SetDefault("reconcile.pacing", d.Reconcile.Pacing)
	v.SetDefault("reconcile.run_on_start", d.Reconcile.RunOnStart)

	v.SetDefault("directory.users_url", d.Directory.UsersURL)
	v.SetDefault("directory.thumbnails_url", d.Directory.ThumbnailsURL)
	v.SetDefault("directory.presence_url", d.Directory.PresenceURL)
	v.SetDefault("directory.friends_url", d.Directory.FriendsURL)
	v.SetDefault("directory.web_url", d.Directory.WebURL)
	v.SetDefault("directory.timeout", d.Directory.Timeout)
	v.SetDefault("directory.max_retries", d.Directory.MaxRetries)
	v.SetDefault("directory.retry_delay", d.Directory.RetryDelay)
	v.SetDefault("directory.lookup_cache_ttl", d.Directory.LookupCacheTTL)

	v.SetDefault("persist.settle_delay", d.Persist.SettleDelay)

	v.SetDefault("poll.default_duration", d.Poll.DefaultDuration)
	v.SetDefault("poll.max_duration", d.Poll.MaxDuration)
	v.SetDefault("poll.result_ttl", d.Poll.ResultTTL)

	v.SetDefault("api.addr", d.API.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Unmarshal decodes v into a Config and validates it.
func Unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads path on a fresh viper instance with defaults and
// environment overrides applied. Used to pick up edits while running.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Unmarshal(v)
}
