// Package config loads stackcache settings. Values are layered: built-in
// defaults, then an optional YAML file, then STACKCACHE_* environment
// variables (STACKCACHE_API_KEY overrides api.key).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/stackcache/pkg/logging"
	"github.com/Sternrassler/stackcache/pkg/ratelimit"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STACKCACHE"

// FileName is the config file base name searched for when no path is given.
const FileName = "stackcache"

// Cache backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the complete application configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Throttle ThrottleConfig `mapstructure:"throttle" yaml:"throttle"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// APIConfig describes the remote API and the HTTP transport.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Version        string        `mapstructure:"version" yaml:"version"`
	Key            string        `mapstructure:"key" yaml:"key"`
	Site           string        `mapstructure:"site" yaml:"site"`
	Filter         string        `mapstructure:"filter" yaml:"filter"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ProxyURL       string        `mapstructure:"proxy_url" yaml:"proxy_url"`
	ItemsField     string        `mapstructure:"items_field" yaml:"items_field"`

	// RetryAttempts > 1 enables per-page retries with backoff.
	RetryAttempts int `mapstructure:"retry_attempts" yaml:"retry_attempts"`
}

// ThrottleConfig configures the request limiter and quota tracking.
type ThrottleConfig struct {
	// Mode is inline, queued or none.
	Mode          string        `mapstructure:"mode" yaml:"mode"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	QuotaCritical int           `mapstructure:"quota_critical" yaml:"quota_critical"`
	QuotaWarning  int           `mapstructure:"quota_warning" yaml:"quota_warning"`
}

// CacheConfig selects and configures the partition store.
type CacheConfig struct {
	// Backend is sqlite or redis.
	Backend       string `mapstructure:"backend" yaml:"backend"`
	Path          string `mapstructure:"path" yaml:"path"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// SyncConfig configures partition refreshes.
type SyncConfig struct {
	// Mode is online or offline.
	Mode        string `mapstructure:"mode" yaml:"mode"`
	Fallback    bool   `mapstructure:"fallback" yaml:"fallback"`
	Resource    string `mapstructure:"resource" yaml:"resource"`
	PageSize    int    `mapstructure:"page_size" yaml:"page_size"`
	Sort        string `mapstructure:"sort" yaml:"sort"`
	Order       string `mapstructure:"order" yaml:"order"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "https://api.stackexchange.com",
			Version:        "2.2",
			Site:           "stackoverflow",
			Filter:         "withbody",
			UserAgent:      "",
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			ItemsField:     "items",
			RetryAttempts:  1,
		},
		Throttle: ThrottleConfig{
			Mode:          string(ratelimit.ModeInline),
			Interval:      ratelimit.DefaultInterval,
			QueueSize:     ratelimit.DefaultQueueSize,
			QuotaCritical: ratelimit.QuotaThresholdCritical,
			QuotaWarning:  ratelimit.QuotaThresholdWarning,
		},
		Cache: CacheConfig{
			Backend:   BackendSQLite,
			Path:      DefaultCachePath(),
			RedisAddr: "localhost:6379",
		},
		Sync: SyncConfig{
			Mode:        string(syncer.ModeOnline),
			Fallback:    true,
			Resource:    "search",
			PageSize:    30,
			Sort:        "activity",
			Order:       string(request.OrderDesc),
			Concurrency: 4,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// DefaultCachePath is the SQLite file under the user cache directory.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".stackcache", "stackcache.db")
	}
	return filepath.Join(dir, "stackcache", "stackcache.db")
}

// Load reads the configuration. With an empty path, stackcache.yaml is
// looked up in the working directory and the user config directory and
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, FileName))
		}
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.API.BaseURL == "" {
		add("api.base_url is required")
	} else if _, err := url.Parse(c.API.BaseURL); err != nil {
		add("api.base_url: %v", err)
	}
	if c.API.ConnectTimeout <= 0 {
		add("api.connect_timeout must be positive")
	}
	if c.API.ReadTimeout <= 0 {
		add("api.read_timeout must be positive")
	}
	if c.API.ProxyURL != "" {
		if u, err := url.Parse(c.API.ProxyURL); err != nil || u.Host == "" {
			add("api.proxy_url %q is not an absolute URL", c.API.ProxyURL)
		}
	}
	if c.API.RetryAttempts < 1 {
		add("api.retry_attempts must be at least 1")
	}

	if _, err := ratelimit.ParseMode(c.Throttle.Mode); err != nil {
		add("throttle.mode: %v", err)
	}
	if c.Throttle.Interval < 0 {
		add("throttle.interval must be >= 0")
	}
	if c.Throttle.QueueSize < 1 {
		add("throttle.queue_size must be at least 1")
	}
	if c.Throttle.QuotaCritical < 0 || c.Throttle.QuotaWarning < c.Throttle.QuotaCritical {
		add("throttle quota thresholds must satisfy 0 <= quota_critical <= quota_warning")
	}

	switch c.Cache.Backend {
	case BackendSQLite:
		if c.Cache.Path == "" {
			add("cache.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			add("cache.redis_addr is required for the redis backend")
		}
	default:
		add("cache.backend %q (want sqlite or redis)", c.Cache.Backend)
	}

	if _, err := syncer.ParseMode(c.Sync.Mode); err != nil {
		add("sync.mode: %v", err)
	}
	if c.Sync.Resource == "" {
		add("sync.resource is required")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > request.MaxPageSize {
		add("sync.page_size must be between 1 and %d", request.MaxPageSize)
	}
	if c.Sync.Sort != "" {
		if _, err := request.SortByName(c.Sync.Sort); err != nil {
			add("sync.sort: %v", err)
		}
	}
	if c.Sync.Order != "" && !request.Order(c.Sync.Order).Valid() {
		add("sync.order %q (want asc or desc)", c.Sync.Order)
	}
	if c.Sync.Concurrency < 1 {
		add("sync.concurrency must be at least 1")
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}

	return errors.Join(errs...)
}

// WriteDefault writes the default configuration as YAML.
func WriteDefault(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
