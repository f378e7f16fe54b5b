package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Store       StoreConfig       `mapstructure:"store"`
	SearchCache SearchCacheConfig `mapstructure:"searchcache"`
	Sync        SyncConfig        `mapstructure:"sync"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// UpstreamConfig holds Open Food Facts API configuration
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	FetchSize         int           `mapstructure:"fetch_size"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// StoreConfig holds product store configuration
type StoreConfig struct {
	Type string `mapstructure:"type"` // "file" or "sqlite"
	Path string `mapstructure:"path"`
}

// SearchCacheConfig holds search result cache configuration.
// Sizes are human-readable ("5MB") and parsed into the *Bytes fields.
type SearchCacheConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	TTL               time.Duration `mapstructure:"ttl"`
	MaxTotalSize      string        `mapstructure:"max_total_size"`
	MaxEntries        int           `mapstructure:"max_entries"`
	StorageQuota      string        `mapstructure:"storage_quota"`
	MaxTotalSizeBytes int64         `mapstructure:"-"`
	StorageQuotaBytes int64         `mapstructure:"-"`
}

// SyncConfig holds background persistence configuration
type SyncConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"` // requests per minute
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/foodfacts/")

	// Environment variable settings: FOODFACTS_SEARCHCACHE_TTL -> searchcache.ttl
	v.SetEnvPrefix("FOODFACTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("upstream.user_agent", "FoodFacts/1.0 (+https://github.com/macrolens/foodfacts)")
	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.fetch_size", 100)
	v.SetDefault("upstream.requests_per_minute", 60)

	// Store defaults
	v.SetDefault("store.type", "file")
	v.SetDefault("store.path", "")

	// Search cache defaults
	v.SetDefault("searchcache.enabled", true)
	v.SetDefault("searchcache.ttl", "1h")
	v.SetDefault("searchcache.max_total_size", "5MB")
	v.SetDefault("searchcache.max_entries", 10)
	v.SetDefault("searchcache.storage_quota", "10MB")

	// Sync defaults
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.base_delay", "500ms")

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip", 100)
}

// validate validates the configuration and fills derived values
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server port is required (set FOODFACTS_SERVER_PORT)")
	}

	if config.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required (set FOODFACTS_UPSTREAM_BASE_URL)")
	}
	if config.Upstream.FetchSize < 1 || config.Upstream.FetchSize > 1000 {
		return fmt.Errorf("upstream fetch size must be between 1 and 1000, got: %d", config.Upstream.FetchSize)
	}
	if config.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got: %s", config.Upstream.Timeout)
	}

	switch config.Store.Type {
	case "file":
		if config.Store.Path == "" {
			config.Store.Path = "data/products.json"
		}
	case "sqlite":
		if config.Store.Path == "" {
			config.Store.Path = "data/products.db"
		}
	default:
		return fmt.Errorf("store type must be 'file' or 'sqlite', got: %s", config.Store.Type)
	}

	if config.SearchCache.Enabled {
		if config.SearchCache.TTL <= 0 {
			return fmt.Errorf("search cache TTL must be positive, got: %s", config.SearchCache.TTL)
		}
		if config.SearchCache.MaxEntries < 1 {
			return fmt.Errorf("search cache max entries must be at least 1, got: %d", config.SearchCache.MaxEntries)
		}
	}

	maxTotal, err := parseSize(config.SearchCache.MaxTotalSize)
	if err != nil {
		return fmt.Errorf("invalid search cache max total size: %w", err)
	}
	quota, err := parseSize(config.SearchCache.StorageQuota)
	if err != nil {
		return fmt.Errorf("invalid search cache storage quota: %w", err)
	}
	config.SearchCache.MaxTotalSizeBytes = maxTotal
	config.SearchCache.StorageQuotaBytes = quota

	if config.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync max retries must be at least 1, got: %d", config.Sync.MaxRetries)
	}

	if config.RateLimit.PerIP < 0 {
		return fmt.Errorf("per-IP rate limit must not be negative, got: %d", config.RateLimit.PerIP)
	}

	return nil
}

// parseSize parses "5MB", "512KB" or a plain byte count; empty means 0
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return int64(size.Bytes()), nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// LoadEnvFile loads variables from a .env file without overriding the
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}
