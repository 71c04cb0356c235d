// Package config loads and validates siteaudit configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/siteaudit/internal/audit"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Debug    bool           `mapstructure:"debug"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sites    []SiteConfig   `mapstructure:"sites"`
	Sampler  SamplerConfig  `mapstructure:"sampler"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SiteConfig lists the routes audited for one site.
type SiteConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	DomainRotation bool           `mapstructure:"domain_rotation"`
	URLs           []string       `mapstructure:"urls"`
	Discover       DiscoverConfig `mapstructure:"discover"`
}

// DiscoverConfig enables link discovery from the site's routes.
type DiscoverConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	MaxRoutes int  `mapstructure:"max_routes"`
	MaxDepth  int  `mapstructure:"max_depth"`
}

// SamplerConfig shapes each audit run.
type SamplerConfig struct {
	Size       int      `mapstructure:"size"`
	Throttle   bool     `mapstructure:"throttle"`
	Categories []string `mapstructure:"categories"`
	Device     string   `mapstructure:"device"`
	Headless   bool     `mapstructure:"headless"`
}

// PoolConfig bounds the browser worker pool. Zero concurrency means half the cores.
type PoolConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	LaunchInterval time.Duration `mapstructure:"launch_interval"`
}

// BrowserConfig locates and configures Chrome.
type BrowserConfig struct {
	Executable        string        `mapstructure:"executable"`
	UserAgent         string        `mapstructure:"user_agent"`
	Proxy             string        `mapstructure:"proxy"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// EngineConfig configures the audit engine subprocess.
type EngineConfig struct {
	Command       string        `mapstructure:"command"`
	SampleTimeout time.Duration `mapstructure:"sample_timeout"`
	ExtraArgs     []string      `mapstructure:"extra_args"`
}

// OutputConfig sets where artifacts are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig enables the GCS artifact mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig enables the Postgres report store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig enables lifecycle event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the event hub and its consumers.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
	Terminal       bool          `mapstructure:"terminal"`
	RecentEvents   int           `mapstructure:"recent_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEAUDIT")
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
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("sampler.size", 1)
	v.SetDefault("sampler.throttle", false)
	v.SetDefault("sampler.device", audit.Desktop.Name)
	v.SetDefault("sampler.headless", true)
	v.SetDefault("pool.max_concurrency", 0)
	v.SetDefault("pool.task_timeout", "15m")
	v.SetDefault("pool.launch_interval", "500ms")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("engine.command", "lighthouse")
	v.SetDefault("engine.sample_timeout", "6m")
	v.SetDefault("output.dir", ".siteaudit")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("database.table", "audit_jobs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.max_batch_events", 32)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "2s")
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.terminal", true)
	v.SetDefault("progress.recent_events", 500)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Callers validate
// after applying command-line overrides.
func (c Config) Validate() error {
	if len(c.Sites) == 0 {
		return errors.New("at least one site is required")
	}
	for i, site := range c.Sites {
		u, err := url.Parse(site.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("sites[%d].base_url %q must be an absolute url", i, site.BaseURL)
		}
		if site.Discover.Enabled && site.Discover.MaxRoutes < 0 {
			return fmt.Errorf("sites[%d].discover.max_routes must be >= 0", i)
		}
	}
	if c.Sampler.Size < 1 {
		return fmt.Errorf("sampler.size must be >= 1")
	}
	if _, err := audit.LookupDevice(c.Sampler.Device); err != nil {
		return fmt.Errorf("sampler.device: %w", err)
	}
	if c.Pool.MaxConcurrency < 0 {
		return fmt.Errorf("pool.max_concurrency must be >= 0")
	}
	if c.Engine.Command == "" {
		return fmt.Errorf("engine.command is required")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Device resolves the configured sampler device preset.
func (c Config) Device() audit.Device {
	d, err := audit.LookupDevice(c.Sampler.Device)
	if err != nil {
		return audit.Desktop
	}
	return d
}
