package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Whalewatch WhalewatchConfig `yaml:"whalewatch"`
	Feed       FeedConfig       `yaml:"feed"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Quote      QuoteConfig      `yaml:"quote"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Sheets     SheetsConfig     `yaml:"sheets"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type WhalewatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedConfig describes the whale-alert feed: the ordered host candidates,
// credentials, the watchlist and its notional thresholds, and the poll cadence.
type FeedConfig struct {
	Hosts              []string           `yaml:"hosts"`
	Endpoint           string             `yaml:"endpoint"`
	APIKey             string             `yaml:"api_key"`
	Watchlist          []string           `yaml:"watchlist"`
	Interval           time.Duration      `yaml:"interval"`
	AllowedLag         time.Duration      `yaml:"allowed_lag"`
	MinNotionalDefault float64            `yaml:"min_notional_default"`
	MinNotional        map[string]float64 `yaml:"min_notional"`
	Timeout            time.Duration      `yaml:"timeout"`
	Retry              RetryConfig        `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type DedupConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

type QuoteConfig struct {
	Providers []string        `yaml:"providers"`
	Timeout   time.Duration   `yaml:"timeout"`
	Cooldown  time.Duration   `yaml:"cooldown"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	AlertTag string        `yaml:"alert_tag"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SheetsConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Tab        string        `yaml:"tab"`
	Timeout    time.Duration `yaml:"timeout"`
}

type TrackerConfig struct {
	StateFile string `yaml:"state_file"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides pulls credentials and per-symbol thresholds from the
// environment. Secrets never have to live in the yaml file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COINGLASS_API_KEY"); v != "" {
		config.Feed.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		config.Telegram.BotToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		config.Telegram.ChatID = strings.TrimSpace(v)
	}
	if v := os.Getenv("GSHEET_WEBHOOK_URL"); v != "" {
		config.Sheets.WebhookURL = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if config.Feed.MinNotional == nil {
		config.Feed.MinNotional = make(map[string]float64)
	}
	for _, sym := range config.Feed.Watchlist {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if v := os.Getenv("MIN_NOTIONAL_" + sym); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				config.Feed.MinNotional[sym] = f
			}
		}
	}
}

// MinNotionalFor returns the notional threshold for a symbol, falling back to
// the default when the symbol has no override.
func (f FeedConfig) MinNotionalFor(symbol string) float64 {
	if v, ok := f.MinNotional[strings.ToUpper(symbol)]; ok {
		return v
	}
	return f.MinNotionalDefault
}

func validateConfig(cfg *Config) error {
	if cfg.Whalewatch.Name == "" {
		return fmt.Errorf("whalewatch.name is required")
	}
	if cfg.Whalewatch.Version == "" {
		return fmt.Errorf("whalewatch.version is required")
	}

	if len(cfg.Feed.Hosts) == 0 {
		return fmt.Errorf("feed.hosts requires at least one host")
	}
	if cfg.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required")
	}
	if cfg.Feed.APIKey == "" {
		return fmt.Errorf("feed.api_key is required (or set COINGLASS_API_KEY)")
	}
	if cfg.Feed.Interval <= 0 {
		return fmt.Errorf("feed.interval must be greater than 0")
	}
	if cfg.Feed.MinNotionalDefault <= 0 {
		return fmt.Errorf("feed.min_notional_default must be greater than 0")
	}
	if cfg.Feed.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("feed.retry.max_attempts must be greater than 0")
	}
	if cfg.Feed.Retry.BaseDelay <= 0 {
		return fmt.Errorf("feed.retry.base_delay must be greater than 0")
	}

	if cfg.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup.ttl must be greater than 0")
	}
	if cfg.Dedup.Capacity <= 0 {
		return fmt.Errorf("dedup.capacity must be greater than 0")
	}

	if len(cfg.Quote.Providers) == 0 {
		return fmt.Errorf("quote.providers requires at least one provider")
	}
	for _, p := range cfg.Quote.Providers {
		switch strings.ToLower(p) {
		case "binance", "coinbase", "kucoin", "bybit":
		default:
			return fmt.Errorf("quote.providers contains unknown provider '%s'", p)
		}
	}

	if cfg.Tracker.StateFile == "" {
		return fmt.Errorf("tracker.state_file is required")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}

	// Production-like deployments must not come up with the ledger or the
	// alert sink silently unconfigured; development tolerates both.
	if env := AppEnvironment(); IsProductionLike(env) {
		if cfg.Sheets.WebhookURL == "" {
			return fmt.Errorf("sheets.webhook_url is required (or set GSHEET_WEBHOOK_URL) when APP_ENV=%s", env)
		}
		if cfg.Telegram.Enabled && cfg.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required (or set TELEGRAM_BOT_TOKEN) when APP_ENV=%s", env)
		}
	}

	return nil
}
