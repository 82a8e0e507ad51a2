package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/site-enricher/internal/resilience"
	"github.com/sells-group/site-enricher/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      store.Config                `yaml:"store" mapstructure:"store"`
	Crawl      CrawlConfig                 `yaml:"crawl" mapstructure:"crawl"`
	Fetch      FetchConfig                 `yaml:"fetch" mapstructure:"fetch"`
	Browser    BrowserConfig               `yaml:"browser" mapstructure:"browser"`
	RateLimit  map[string]resilience.Limit `yaml:"ratelimit" mapstructure:"ratelimit"`
	Anthropic  AnthropicConfig             `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig            `yaml:"salesforce" mapstructure:"salesforce"`
	CRM        CRMConfig                   `yaml:"crm" mapstructure:"crm"`
	Batch      BatchConfig                 `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig                `yaml:"server" mapstructure:"server"`
	Log        LogConfig                   `yaml:"log" mapstructure:"log"`
}

// CrawlConfig bounds the per-domain crawl.
type CrawlConfig struct {
	MaxDepth      int      `yaml:"max_depth" mapstructure:"max_depth"`
	MaxPages      int      `yaml:"max_pages" mapstructure:"max_pages"`
	DelayMs       int      `yaml:"delay_ms" mapstructure:"delay_ms"`
	CacheTTLHours int      `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	ExcludePaths  []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// Delay returns the politeness pause between page fetches.
func (c CrawlConfig) Delay() time.Duration { return time.Duration(c.DelayMs) * time.Millisecond }

// CacheTTL returns how long a consolidated crawl stays cached.
func (c CrawlConfig) CacheTTL() time.Duration { return time.Duration(c.CacheTTLHours) * time.Hour }

// FetchConfig configures the lightweight HTTP fetch.
type FetchConfig struct {
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries          int    `yaml:"retries" mapstructure:"retries"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	MinContentLength int    `yaml:"min_content_length" mapstructure:"min_content_length"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// BrowserConfig configures the headless browser strategy.
type BrowserConfig struct {
	Enabled     bool              `yaml:"enabled" mapstructure:"enabled"`
	Headless    bool              `yaml:"headless" mapstructure:"headless"`
	ExecPath    string            `yaml:"exec_path" mapstructure:"exec_path"`
	SettleMs    int               `yaml:"settle_ms" mapstructure:"settle_ms"`
	TimeoutSecs int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Pool        BrowserPoolConfig `yaml:"pool" mapstructure:"pool"`
}

// BrowserPoolConfig configures browser session reuse.
type BrowserPoolConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	MaxSessions int  `yaml:"max_sessions" mapstructure:"max_sessions"`
	MaxRequests int  `yaml:"max_requests" mapstructure:"max_requests"`
	MaxAgeMins  int  `yaml:"max_age_mins" mapstructure:"max_age_mins"`
	MaxIdleMins int  `yaml:"max_idle_mins" mapstructure:"max_idle_mins"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	Model           string `yaml:"model" mapstructure:"model"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxContentChars int    `yaml:"max_content_chars" mapstructure:"max_content_chars"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// CRMConfig configures how results are written to the CRM.
type CRMConfig struct {
	FieldMap   string `yaml:"field_map" mapstructure:"field_map"`
	WriteNotes bool   `yaml:"write_notes" mapstructure:"write_notes"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`
	DomainDelayMs int `yaml:"domain_delay_ms" mapstructure:"domain_delay_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory (optional), then ENRICH_*
// environment variables, over built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "enrich.db")
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.delay_ms", 1000)
	v.SetDefault("crawl.cache_ttl_hours", 24)
	v.SetDefault("crawl.exclude_paths", []string{})
	v.SetDefault("fetch.timeout_secs", 10)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; SiteEnricher/1.0)")
	v.SetDefault("fetch.min_content_length", 100)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.settle_ms", 2000)
	v.SetDefault("browser.timeout_secs", 30)
	v.SetDefault("browser.pool.enabled", true)
	v.SetDefault("browser.pool.max_sessions", 5)
	v.SetDefault("browser.pool.max_requests", 50)
	v.SetDefault("browser.pool.max_age_mins", 30)
	v.SetDefault("browser.pool.max_idle_mins", 10)
	v.SetDefault("ratelimit.browser.rps", 3)
	v.SetDefault("ratelimit.browser.burst", 5)
	v.SetDefault("ratelimit.ai.rps", 2)
	v.SetDefault("ratelimit.ai.burst", 5)
	v.SetDefault("ratelimit.crm.rps", 10)
	v.SetDefault("ratelimit.crm.burst", 20)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.max_content_chars", 50000)
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("crm.field_map", "")
	v.SetDefault("crm.write_notes", true)
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.domain_delay_ms", 2000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys a command needs are set. mode is one of
// "crawl", "enrich", "sync" or "serve".
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "crawl":
	case "enrich":
		require(c.Anthropic.Key != "", "anthropic.key is required")
	case "sync":
		require(c.Anthropic.Key != "", "anthropic.key is required")
		require(c.Salesforce.ClientID != "", "salesforce.client_id is required")
		require(c.Salesforce.Username != "", "salesforce.username is required")
		require(c.Salesforce.KeyPath != "", "salesforce.key_path is required")
	case "serve":
		require(c.Anthropic.Key != "", "anthropic.key is required")
		require(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be > 0 and < 65536")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	require(c.Crawl.MaxDepth >= 0, "crawl.max_depth must be >= 0")
	require(c.Crawl.MaxPages > 0, "crawl.max_pages must be > 0")
	require(c.Fetch.MinContentLength >= 0, "fetch.min_content_length must be >= 0")
	require(c.Batch.Workers >= 1 && c.Batch.Workers <= 64, "batch.workers must be between 1 and 64")
	if c.Store.Driver == "postgres" {
		require(c.Store.DatabaseURL != "", "store.database_url is required for postgres")
	}
	for name, lim := range c.RateLimit {
		require(lim.RPS > 0, fmt.Sprintf("ratelimit.%s.rps must be > 0", name))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
