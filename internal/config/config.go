// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig governs the direct + relay proxy fetch chain.
type FetchConfig struct {
	UserAgent       string   `mapstructure:"user_agent"`
	DirectTimeoutMs int      `mapstructure:"direct_timeout_ms"`
	ProxyTimeoutMs  int      `mapstructure:"proxy_timeout_ms"`
	Proxies         []string `mapstructure:"proxies"`
	RatePerHost     float64  `mapstructure:"rate_per_host"`
	Burst           int      `mapstructure:"burst"`
}

// HeadlessConfig configures the last-resort browser strategy.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ProvidersConfig lists the upstream catalogs and their tie-break order.
type ProvidersConfig struct {
	Priority  []string       `mapstructure:"priority"`
	Komikindo ProviderConfig `mapstructure:"komikindo"`
	Shinigami ProviderConfig `mapstructure:"shinigami"`
	MangaDex  ProviderConfig `mapstructure:"mangadex"`
}

// ProviderConfig toggles one provider and points it at its upstream.
type ProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// SchedulerConfig bounds one poll pass.
type SchedulerConfig struct {
	QueueLimit      int `mapstructure:"queue_limit"`
	BatchSize       int `mapstructure:"batch_size"`
	BatchDelayMs    int `mapstructure:"batch_delay_ms"`
	DeadlineSeconds int `mapstructure:"deadline_seconds"`
	// IntervalSeconds runs Poll in-process on a ticker; 0 leaves triggering to an external cron.
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// NotifyConfig holds the outbound channel settings shared by every user.
type NotifyConfig struct {
	ChatAPIBase           string `mapstructure:"chat_api_base"`
	ParseMode             string `mapstructure:"parse_mode"`
	WebhookUsername       string `mapstructure:"webhook_username"`
	ChannelTimeoutSeconds int    `mapstructure:"channel_timeout_seconds"`
	SiteURL               string `mapstructure:"site_url"`
}

// StoreConfig selects the tracked-title store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	MaxConns int32  `mapstructure:"max_conns"`
	SeedFile string `mapstructure:"seed_file"`
}

// ArchiveConfig selects where poll reports are archived.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig selects where chapter events are published.
type PublisherConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MANGAWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("fetch.direct_timeout_ms", 5000)
	v.SetDefault("fetch.proxy_timeout_ms", 9000)
	v.SetDefault("fetch.proxies", []string{
		"https://api.allorigins.win/raw?url={url}",
		"https://corsproxy.io/?url={url}",
		"https://api.codetabs.com/v1/proxy?quest={url}",
	})
	v.SetDefault("fetch.rate_per_host", 0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("providers.priority", []string{"komikindo", "shinigami", "mangadex"})
	v.SetDefault("providers.komikindo.enabled", true)
	v.SetDefault("providers.komikindo.base_url", "https://komikindo.ch")
	v.SetDefault("providers.shinigami.enabled", true)
	v.SetDefault("providers.shinigami.base_url", "https://api.shngm.io")
	v.SetDefault("providers.mangadex.enabled", true)
	v.SetDefault("providers.mangadex.base_url", "https://api.mangadex.org")
	v.SetDefault("scheduler.queue_limit", 8)
	v.SetDefault("scheduler.batch_size", 5)
	v.SetDefault("scheduler.batch_delay_ms", 1000)
	v.SetDefault("scheduler.deadline_seconds", 50)
	v.SetDefault("scheduler.interval_seconds", 0)
	v.SetDefault("notify.chat_api_base", "https://api.telegram.org")
	v.SetDefault("notify.parse_mode", "HTML")
	v.SetDefault("notify.webhook_username", "MangaWatch")
	v.SetDefault("notify.channel_timeout_seconds", 8)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "data/mangawatch.db")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "polls")
	v.SetDefault("publisher.driver", "none")
	v.SetDefault("publisher.topic", "chapter-updates")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.DirectTimeoutMs <= 0 {
		return fmt.Errorf("fetch.direct_timeout_ms must be > 0")
	}
	if c.Fetch.ProxyTimeoutMs <= 0 {
		return fmt.Errorf("fetch.proxy_timeout_ms must be > 0")
	}
	for _, p := range c.Fetch.Proxies {
		if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			return fmt.Errorf("fetch.proxies entry %q must be an http(s) URL template", p)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	known := map[string]bool{"komikindo": true, "shinigami": true, "mangadex": true}
	for _, name := range c.Providers.Priority {
		if !known[name] {
			return fmt.Errorf("providers.priority contains unknown provider %q", name)
		}
	}
	if c.Scheduler.QueueLimit <= 0 {
		return fmt.Errorf("scheduler.queue_limit must be > 0")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be > 0")
	}
	if c.Scheduler.DeadlineSeconds <= 0 {
		return fmt.Errorf("scheduler.deadline_seconds must be > 0")
	}
	if c.Notify.ChannelTimeoutSeconds <= 0 {
		return fmt.Errorf("notify.channel_timeout_seconds must be > 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	switch c.Publisher.Driver {
	case "", "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for the pubsub driver")
		}
	default:
		return fmt.Errorf("publisher.driver %q is not supported", c.Publisher.Driver)
	}
	return nil
}

// DirectTimeout is the budget for the first, unproxied attempt.
func (c Config) DirectTimeout() time.Duration {
	return time.Duration(c.Fetch.DirectTimeoutMs) * time.Millisecond
}

// ProxyTimeout is the budget for each relay proxy attempt.
func (c Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Fetch.ProxyTimeoutMs) * time.Millisecond
}

// BatchDelay is the pause between poll batches.
func (c Config) BatchDelay() time.Duration {
	return time.Duration(c.Scheduler.BatchDelayMs) * time.Millisecond
}

// PollDeadline is the wall-clock ceiling of one poll pass.
func (c Config) PollDeadline() time.Duration {
	return time.Duration(c.Scheduler.DeadlineSeconds) * time.Second
}

// PollInterval is the in-process poll period; zero disables it.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// ChannelTimeout bounds a single notification delivery.
func (c Config) ChannelTimeout() time.Duration {
	return time.Duration(c.Notify.ChannelTimeoutSeconds) * time.Second
}
