// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	DBURL    string `mapstructure:"DB_URL"`

	GithubAppID      int64  `mapstructure:"GITHUB_APP_ID"`
	GithubPrivateKey string `mapstructure:"GITHUB_PRIVATE_KEY"`
	GithubBaseURL    string `mapstructure:"GITHUB_BASE_URL"`

	JiraAppKey    string        `mapstructure:"JIRA_APP_KEY"`
	JiraTokenTTL  time.Duration `mapstructure:"JIRA_TOKEN_TTL"`
	JiraClockSkew time.Duration `mapstructure:"JIRA_CLOCK_SKEW"`

	RateLimitMaxConcurrent int           `mapstructure:"RATE_LIMIT_MAX_CONCURRENT"`
	RateLimitMinInterval   time.Duration `mapstructure:"RATE_LIMIT_MIN_INTERVAL"`
	RateLimitTTL           time.Duration `mapstructure:"RATE_LIMIT_TTL"`

	DiscoveryConcurrency  int `mapstructure:"DISCOVERY_CONCURRENCY"`
	BranchSyncConcurrency int `mapstructure:"BRANCH_SYNC_CONCURRENCY"`
	CommitSyncConcurrency int `mapstructure:"COMMIT_SYNC_CONCURRENCY"`
	PullSyncConcurrency   int `mapstructure:"PULL_SYNC_CONCURRENCY"`
	PushConcurrency       int `mapstructure:"PUSH_CONCURRENCY"`
	MetricsConcurrency    int `mapstructure:"METRICS_CONCURRENCY"`
	ResyncConcurrency     int `mapstructure:"RESYNC_CONCURRENCY"`
	QueueMaxAttempts      int `mapstructure:"QUEUE_MAX_ATTEMPTS"`

	WebhookTimeout       time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	StalledSyncThreshold time.Duration `mapstructure:"STALLED_SYNC_THRESHOLD"`
	SyncPageSize         int           `mapstructure:"SYNC_PAGE_SIZE"`

	OtelEnabled bool `mapstructure:"OTEL_ENABLED"`
	OtelStdout  bool `mapstructure:"OTEL_STDOUT"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return load(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_URL", "")
	v.SetDefault("GITHUB_APP_ID", 0)
	v.SetDefault("GITHUB_PRIVATE_KEY", "")
	v.SetDefault("GITHUB_BASE_URL", "")
	v.SetDefault("JIRA_APP_KEY", "com.github.integration")
	v.SetDefault("JIRA_TOKEN_TTL", "30s")
	v.SetDefault("JIRA_CLOCK_SKEW", "5s")
	v.SetDefault("RATE_LIMIT_MAX_CONCURRENT", 1)
	v.SetDefault("RATE_LIMIT_MIN_INTERVAL", "1s")
	v.SetDefault("RATE_LIMIT_TTL", "10m")
	v.SetDefault("DISCOVERY_CONCURRENCY", 1)
	v.SetDefault("BRANCH_SYNC_CONCURRENCY", 1)
	v.SetDefault("COMMIT_SYNC_CONCURRENCY", 1)
	v.SetDefault("PULL_SYNC_CONCURRENCY", 1)
	v.SetDefault("PUSH_CONCURRENCY", 1)
	v.SetDefault("METRICS_CONCURRENCY", 1)
	v.SetDefault("RESYNC_CONCURRENCY", 5)
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	v.SetDefault("WEBHOOK_TIMEOUT", "25s")
	v.SetDefault("STALLED_SYNC_THRESHOLD", "15m")
	v.SetDefault("SYNC_PAGE_SIZE", 50)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_STDOUT", false)
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubAppID == 0 {
		return nil, errors.New("GITHUB_APP_ID is a required configuration field")
	}
	if cfg.GithubPrivateKey == "" {
		return nil, errors.New("GITHUB_PRIVATE_KEY is a required configuration field")
	}
	// Keys passed through env files usually carry escaped newlines.
	cfg.GithubPrivateKey = strings.ReplaceAll(cfg.GithubPrivateKey, `\n`, "\n")

	if cfg.RateLimitMaxConcurrent < 1 {
		return nil, errors.New("RATE_LIMIT_MAX_CONCURRENT must be at least 1")
	}
	if cfg.RateLimitMinInterval < 0 {
		return nil, errors.New("RATE_LIMIT_MIN_INTERVAL must not be negative")
	}
	if cfg.QueueMaxAttempts < 1 {
		return nil, errors.New("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.SyncPageSize < 1 || cfg.SyncPageSize > 100 {
		return nil, errors.New("SYNC_PAGE_SIZE must be between 1 and 100")
	}
	for _, n := range []int{
		cfg.DiscoveryConcurrency, cfg.BranchSyncConcurrency, cfg.CommitSyncConcurrency,
		cfg.PullSyncConcurrency, cfg.PushConcurrency, cfg.MetricsConcurrency, cfg.ResyncConcurrency,
	} {
		if n < 1 {
			return nil, errors.New("lane concurrency values must be at least 1")
		}
	}

	return &cfg, nil
}

// ResourceLaneConcurrency applies RESYNC_CONCURRENCY to a resource lane's own setting.
func (c *Config) ResourceLaneConcurrency(own int) int {
	if c.ResyncConcurrency > own {
		return c.ResyncConcurrency
	}
	return own
}
