// Package config loads deal-engine settings from the environment into an
// explicit struct that is passed to every component at construction time.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Defaults for the public marketplace.
const (
	DefaultAPIBase   = "https://www.pathofexile.com/api/trade2"
	DefaultTradeBase = "https://www.pathofexile.com/trade2"
	DefaultRealm     = "poe2"
	DefaultLeague    = "Dawn of the Hunt"
	DefaultUserAgent = "deal-engine/1.0 (contact: ops@exiletrade.dev)"

	// MaxFetchLimit is the largest number of listings one request may fetch.
	MaxFetchLimit = 60
)

var (
	ErrInvalidRate  = errors.New("config: DIVINE_TO_CHAOS must be positive")
	ErrInvalidLimit = errors.New("config: FETCH_LIMIT must be between 1 and 60")
)

// Config holds every recognized option. Zero values are never used directly;
// Load fills defaults.
type Config struct {
	Port string

	Realm       string
	League      string
	DefaultItem string
	QueryID     string
	UserAgent   string
	APIBase     string
	TradeBase   string

	FetchLimit    int
	DivineToChaos decimal.Decimal
	CORSOrigins   []string

	RankDeals      bool
	AlertMinMargin float64

	DatabaseURL string
	RedisURL    string
	SQLitePath  string
	CacheTTL    time.Duration

	WatchInterval    time.Duration
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary key lookup so tests never
// have to mutate the process environment.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := &Config{
		Port:             get("PORT", "8080"),
		Realm:            get("REALM", DefaultRealm),
		League:           get("LEAGUE", DefaultLeague),
		DefaultItem:      get("DEFAULT_ITEM", ""),
		QueryID:          get("QUERY_ID", ""),
		UserAgent:        get("USER_AGENT", DefaultUserAgent),
		APIBase:          strings.TrimRight(get("API_BASE", DefaultAPIBase), "/"),
		TradeBase:        strings.TrimRight(get("TRADE_BASE", DefaultTradeBase), "/"),
		CORSOrigins:      splitList(get("CORS_ORIGINS", "*")),
		DatabaseURL:      get("DATABASE_URL", ""),
		RedisURL:         get("REDIS_URL", ""),
		SQLitePath:       get("SQLITE_PATH", ""),
		TelegramBotToken: get("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   get("TELEGRAM_CHAT_ID", ""),
	}

	var err error
	if cfg.FetchLimit, err = strconv.Atoi(get("FETCH_LIMIT", "10")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLimit, err)
	}
	if cfg.DivineToChaos, err = decimal.NewFromString(get("DIVINE_TO_CHAOS", "150")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRate, err)
	}
	if cfg.RankDeals, err = strconv.ParseBool(get("RANK_DEALS", "false")); err != nil {
		return nil, fmt.Errorf("config: RANK_DEALS: %w", err)
	}
	if cfg.AlertMinMargin, err = strconv.ParseFloat(get("ALERT_MIN_MARGIN", "30"), 64); err != nil {
		return nil, fmt.Errorf("config: ALERT_MIN_MARGIN: %w", err)
	}
	if cfg.CacheTTL, err = time.ParseDuration(get("CACHE_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("config: CACHE_TTL: %w", err)
	}
	if cfg.WatchInterval, err = time.ParseDuration(get("WATCH_INTERVAL", "0s")); err != nil {
		return nil, fmt.Errorf("config: WATCH_INTERVAL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !c.DivineToChaos.IsPositive() {
		return ErrInvalidRate
	}
	if c.FetchLimit < 1 || c.FetchLimit > MaxFetchLimit {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, c.FetchLimit)
	}
	return nil
}

// AllowsOrigin reports whether a browser origin may call the API.
func (c *Config) AllowsOrigin(origin string) bool {
	for _, o := range c.CORSOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// AlertsEnabled reports whether Telegram credentials are present.
func (c *Config) AlertsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
