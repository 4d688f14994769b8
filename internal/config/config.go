package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Secrets (from .env)
	APIKey          string
	CORSAllowOrigin string
	FinnhubAPIKey   string
	AlpacaAPIKey    string
	AlpacaAPISecret string
	WebhookURL      string
	BotName         string

	// API
	APIPort int

	// Storage
	StoreDriver string // "postgres" or "sqlite"
	SQLitePath  string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string

	// Market data
	QuoteProvider  string // "finnhub" or "alpaca"
	FinnhubBaseURL string
	AlpacaDataURL  string

	// Identity
	TokenInfoURL     string
	IdentityAudience string

	// Watchlist
	DefaultSymbols         []string
	RefreshIntervalSeconds int
	NewsLimit              int
	MaxWatchlistSize       int
	SaveQuoteSnapshots     bool
	SessionIdleMinutes     int
}

// fileConfig is the optional YAML overlay named by STOCKWATCH_CONFIG.
// Only non-secret settings are read from it.
type fileConfig struct {
	APIPort                int      `yaml:"api_port"`
	StoreDriver            string   `yaml:"store_driver"`
	SQLitePath             string   `yaml:"sqlite_path"`
	QuoteProvider          string   `yaml:"quote_provider"`
	DefaultSymbols         []string `yaml:"default_symbols"`
	RefreshIntervalSeconds int      `yaml:"refresh_interval_seconds"`
	NewsLimit              int      `yaml:"news_limit"`
	MaxWatchlistSize       int      `yaml:"max_watchlist_size"`
	SaveQuoteSnapshots     *bool    `yaml:"save_quote_snapshots"`
	SessionIdleMinutes     int      `yaml:"session_idle_minutes"`
}

func defaults() *Config {
	return &Config{
		BotName:         "StockWatch",
		CORSAllowOrigin: "*",

		APIPort: 3001,

		StoreDriver: "postgres",
		SQLitePath:  "stockwatch.db",
		DBHost:      "localhost",
		DBPort:      5432,
		DBName:      "stockwatch",

		QuoteProvider:  "finnhub",
		FinnhubBaseURL: "https://finnhub.io/api/v1",

		TokenInfoURL: "https://oauth2.googleapis.com/tokeninfo",

		DefaultSymbols:         []string{"AAPL", "GOOGL", "MSFT", "AMZN"},
		RefreshIntervalSeconds: 10,
		NewsLimit:              6,
		MaxWatchlistSize:       0,
		SaveQuoteSnapshots:     true,
		SessionIdleMinutes:     30,
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("STOCKWATCH_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Secrets
	cfg.APIKey = envStr("API_KEY", cfg.APIKey)
	cfg.CORSAllowOrigin = envStr("CORS_ALLOW_ORIGIN", cfg.CORSAllowOrigin)
	cfg.FinnhubAPIKey = envStr("FINNHUB_API_KEY", cfg.FinnhubAPIKey)
	cfg.AlpacaAPIKey = envStr("ALPACA_API_KEY", cfg.AlpacaAPIKey)
	cfg.AlpacaAPISecret = envStr("ALPACA_API_SECRET", cfg.AlpacaAPISecret)
	cfg.WebhookURL = envStr("WEBHOOK_URL", cfg.WebhookURL)
	cfg.BotName = envStr("BOT_NAME", cfg.BotName)

	cfg.APIPort = envInt("API_PORT", cfg.APIPort)

	// Storage
	cfg.StoreDriver = strings.ToLower(envStr("STORE_DRIVER", cfg.StoreDriver))
	cfg.SQLitePath = envStr("SQLITE_PATH", cfg.SQLitePath)
	cfg.DBHost = envStr("DB_HOST", cfg.DBHost)
	cfg.DBPort = envInt("DB_PORT", cfg.DBPort)
	cfg.DBName = envStr("DB_NAME", cfg.DBName)
	cfg.DBUser = envStr("DB_USER", cfg.DBUser)
	cfg.DBPassword = envStr("DB_PASSWORD", cfg.DBPassword)

	// Market data
	cfg.QuoteProvider = strings.ToLower(envStr("QUOTE_PROVIDER", cfg.QuoteProvider))
	cfg.FinnhubBaseURL = envStr("FINNHUB_BASE_URL", cfg.FinnhubBaseURL)
	cfg.AlpacaDataURL = envStr("ALPACA_DATA_URL", cfg.AlpacaDataURL)

	// Identity
	cfg.TokenInfoURL = envStr("IDENTITY_TOKENINFO_URL", cfg.TokenInfoURL)
	cfg.IdentityAudience = envStr("IDENTITY_AUDIENCE", cfg.IdentityAudience)

	// Watchlist
	cfg.DefaultSymbols = envList("DEFAULT_SYMBOLS", cfg.DefaultSymbols)
	cfg.RefreshIntervalSeconds = envInt("REFRESH_INTERVAL_SECONDS", cfg.RefreshIntervalSeconds)
	cfg.NewsLimit = envInt("NEWS_LIMIT", cfg.NewsLimit)
	cfg.MaxWatchlistSize = envInt("MAX_WATCHLIST_SIZE", cfg.MaxWatchlistSize)
	cfg.SaveQuoteSnapshots = envBool("SAVE_QUOTE_SNAPSHOTS", cfg.SaveQuoteSnapshots)
	cfg.SessionIdleMinutes = envInt("SESSION_IDLE_MINUTES", cfg.SessionIdleMinutes)

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.APIPort > 0 {
		c.APIPort = fc.APIPort
	}
	if fc.StoreDriver != "" {
		c.StoreDriver = strings.ToLower(fc.StoreDriver)
	}
	if fc.SQLitePath != "" {
		c.SQLitePath = fc.SQLitePath
	}
	if fc.QuoteProvider != "" {
		c.QuoteProvider = strings.ToLower(fc.QuoteProvider)
	}
	if len(fc.DefaultSymbols) > 0 {
		c.DefaultSymbols = normalizeSymbols(fc.DefaultSymbols)
	}
	if fc.RefreshIntervalSeconds > 0 {
		c.RefreshIntervalSeconds = fc.RefreshIntervalSeconds
	}
	if fc.NewsLimit > 0 {
		c.NewsLimit = fc.NewsLimit
	}
	if fc.MaxWatchlistSize > 0 {
		c.MaxWatchlistSize = fc.MaxWatchlistSize
	}
	if fc.SaveQuoteSnapshots != nil {
		c.SaveQuoteSnapshots = *fc.SaveQuoteSnapshots
	}
	if fc.SessionIdleMinutes > 0 {
		c.SessionIdleMinutes = fc.SessionIdleMinutes
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []string

	switch c.QuoteProvider {
	case "finnhub":
		if c.FinnhubAPIKey == "" {
			errs = append(errs, "FINNHUB_API_KEY is required for the finnhub quote provider")
		}
	case "alpaca":
		if c.AlpacaAPIKey == "" || c.AlpacaAPISecret == "" {
			errs = append(errs, "ALPACA_API_KEY and ALPACA_API_SECRET are required for the alpaca quote provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("QUOTE_PROVIDER %q is not supported (finnhub|alpaca)", c.QuoteProvider))
	}

	switch c.StoreDriver {
	case "postgres":
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required for the sqlite store")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER %q is not supported (postgres|sqlite)", c.StoreDriver))
	}

	if len(c.DefaultSymbols) == 0 {
		errs = append(errs, "DEFAULT_SYMBOLS must name at least one symbol")
	}
	if c.RefreshIntervalSeconds <= 0 {
		errs = append(errs, "REFRESH_INTERVAL_SECONDS must be positive")
	}
	if c.NewsLimit <= 0 {
		errs = append(errs, "NEWS_LIMIT must be positive")
	}
	if c.MaxWatchlistSize > 0 && c.MaxWatchlistSize < len(c.DefaultSymbols) {
		errs = append(errs, "MAX_WATCHLIST_SIZE is smaller than the default watchlist")
	}

	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set — REST API has no authentication")
	}
	if c.IdentityAudience == "" {
		fmt.Println("[WARN] IDENTITY_AUDIENCE not set — ID tokens for any client will be accepted")
	}
	if c.WebhookURL == "" {
		fmt.Println("[WARN] WEBHOOK_URL not set — refresh health alerts go to console only")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== StockWatch Configuration ===")
	fmt.Printf("API Port: %d\n", c.APIPort)
	fmt.Printf("Store: %s\n", c.StoreDriver)
	if c.StoreDriver == "sqlite" {
		fmt.Printf("  SQLite Path: %s\n", c.SQLitePath)
	} else {
		fmt.Printf("  Postgres: %s:%d/%s\n", c.DBHost, c.DBPort, c.DBName)
	}
	fmt.Println("--------------------------------------")
	fmt.Printf("Quote Provider: %s\n", c.QuoteProvider)
	fmt.Printf("  Finnhub API: %s\n", boolLabel(c.FinnhubAPIKey != "", "configured", "not set"))
	fmt.Printf("  Alpaca API: %s\n", boolLabel(c.AlpacaAPIKey != "", "configured", "not set"))
	fmt.Println("--------------------------------------")
	fmt.Println("Watchlist:")
	fmt.Printf("  Default Symbols: %s\n", strings.Join(c.DefaultSymbols, ", "))
	fmt.Printf("  Refresh: every %ds\n", c.RefreshIntervalSeconds)
	fmt.Printf("  News Items: %d\n", c.NewsLimit)
	fmt.Printf("  Max Size: %s\n", boolLabel(c.MaxWatchlistSize > 0, strconv.Itoa(c.MaxWatchlistSize), "unlimited"))
	fmt.Printf("  Quote Snapshots: %v\n", c.SaveQuoteSnapshots)
	fmt.Printf("  Session Idle Timeout: %dm\n", c.SessionIdleMinutes)
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		if list := normalizeSymbols(strings.Split(v, ",")); len(list) > 0 {
			return list
		}
	}
	return fallback
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
