package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in provider.name.
const (
	ProviderEODHD = "eodhd"
	ProviderYahoo = "yahoo"
	ProviderMock  = "mock"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	Provider struct {
		Name      string        `yaml:"name"`
		BaseURL   string        `yaml:"base_url"`
		APIKey    string        `yaml:"api_key"`
		Exchange  string        `yaml:"exchange"`
		Universe  []string      `yaml:"universe"`
		RateLimit int           `yaml:"rate_limit"`
		Timeout   time.Duration `yaml:"timeout"`
		// Breaker opens after this many consecutive upstream failures; 0 disables it.
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerReset    time.Duration `yaml:"breaker_reset"`
	} `yaml:"provider"`
	Cache struct {
		Dir        string        `yaml:"dir"`
		MemoTTL    time.Duration `yaml:"memo_ttl"`
		FileMaxAge time.Duration `yaml:"file_max_age"`
	} `yaml:"cache"`
	Refresh struct {
		Cron          string        `yaml:"cron"`
		HistoryDays   int           `yaml:"history_days"`
		Concurrency   int           `yaml:"concurrency"`
		SymbolTimeout time.Duration `yaml:"symbol_timeout"`
		BatchTimeout  time.Duration `yaml:"batch_timeout"`
		MaxSymbols    int           `yaml:"max_symbols"`
		RunOnStart    bool          `yaml:"run_on_start"`
	} `yaml:"refresh"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Path returns the config file location.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("STOCKLENS_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("EODHD_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("STOCKLENS_UNIVERSE"); v != "" {
		cfg.Provider.Universe = strings.Split(v, ",")
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("REFRESH_CRON"); v != "" {
		cfg.Refresh.Cron = v
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Refresh.RunOnStart = b
		}
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	if c.Provider.Name == "" {
		c.Provider.Name = ProviderYahoo
	}
	if c.Provider.Exchange == "" {
		c.Provider.Exchange = "US"
	}
	if c.Provider.RateLimit == 0 {
		c.Provider.RateLimit = 5
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.BreakerReset == 0 {
		c.Provider.BreakerReset = time.Minute
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "data/cache"
	}
	if c.Cache.MemoTTL == 0 {
		c.Cache.MemoTTL = time.Hour
	}
	if c.Cache.FileMaxAge == 0 {
		c.Cache.FileMaxAge = 24 * time.Hour
	}
	if c.Refresh.Cron == "" {
		c.Refresh.Cron = "0 0 18 * * *"
	}
	if c.Refresh.HistoryDays == 0 {
		c.Refresh.HistoryDays = 30
	}
	if c.Refresh.Concurrency == 0 {
		c.Refresh.Concurrency = 4
	}
	if c.Refresh.SymbolTimeout == 0 {
		c.Refresh.SymbolTimeout = 30 * time.Second
	}
	if c.Refresh.BatchTimeout == 0 {
		c.Refresh.BatchTimeout = 30 * time.Minute
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/stocklens.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// TelegramEnabled reports whether both bot token and chat ID are set.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case ProviderEODHD:
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required for eodhd")
		}
	case ProviderYahoo, ProviderMock:
	default:
		return fmt.Errorf("provider.name %q is not one of eodhd, yahoo, mock", c.Provider.Name)
	}
	if c.Provider.RateLimit < 0 {
		return fmt.Errorf("provider.rate_limit must not be negative")
	}
	if c.Refresh.HistoryDays < 1 {
		return fmt.Errorf("refresh.history_days must be positive")
	}
	if c.Refresh.Concurrency < 1 {
		return fmt.Errorf("refresh.concurrency must be positive")
	}
	if c.Refresh.MaxSymbols < 0 {
		return fmt.Errorf("refresh.max_symbols must not be negative")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if c.Telegram.ChatID != "" {
		if _, err := strconv.ParseInt(c.Telegram.ChatID, 10, 64); err != nil {
			return fmt.Errorf("telegram.chat_id must be numeric")
		}
	}
	return nil
}
