package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxRemoteRetries caps WHO_RETRIES. The ICD-11 search is retried at most once.
const MaxRemoteRetries = 1

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	CrosswalkCacheTTL  time.Duration `mapstructure:"CROSSWALK_CACHE_TTL"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	WHOTokenURL        string        `mapstructure:"WHO_TOKEN_URL"`
	WHOClientID        string        `mapstructure:"WHO_CLIENT_ID"`
	WHOClientSecret    string        `mapstructure:"WHO_CLIENT_SECRET"`
	WHOScope           string        `mapstructure:"WHO_SCOPE"`
	WHOSearchURL       string        `mapstructure:"WHO_SEARCH_URL"`
	WHOLanguage        string        `mapstructure:"WHO_LANGUAGE"`
	WHOTimeout         time.Duration `mapstructure:"WHO_TIMEOUT"`
	WHORetries         int           `mapstructure:"WHO_RETRIES"`
	ICDRemoteLimit     int           `mapstructure:"ICD_REMOTE_LIMIT"`
	ICDLocalLimit      int           `mapstructure:"ICD_LOCAL_LIMIT"`
	ICDSampleLimit     int           `mapstructure:"ICD_SAMPLE_LIMIT"`
	NamasteSearchLimit int           `mapstructure:"NAMASTE_SEARCH_LIMIT"`
	SeedFile           string        `mapstructure:"SEED_FILE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CROSSWALK_CACHE_TTL", "CORS_ORIGINS", "REQUEST_TIMEOUT",
	"WHO_TOKEN_URL", "WHO_CLIENT_ID", "WHO_CLIENT_SECRET", "WHO_SCOPE",
	"WHO_SEARCH_URL", "WHO_LANGUAGE", "WHO_TIMEOUT", "WHO_RETRIES",
	"ICD_REMOTE_LIMIT", "ICD_LOCAL_LIMIT", "ICD_SAMPLE_LIMIT",
	"NAMASTE_SEARCH_LIMIT", "SEED_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CROSSWALK_CACHE_TTL", "10m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("WHO_TOKEN_URL", "https://icdaccessmanagement.who.int/connect/token")
	v.SetDefault("WHO_SCOPE", "icdapi_access")
	v.SetDefault("WHO_SEARCH_URL", "https://id.who.int/icd/release/11/mms/search")
	v.SetDefault("WHO_LANGUAGE", "en")
	v.SetDefault("WHO_TIMEOUT", "10s")
	v.SetDefault("WHO_RETRIES", 0)
	v.SetDefault("ICD_REMOTE_LIMIT", 10)
	v.SetDefault("ICD_LOCAL_LIMIT", 20)
	v.SetDefault("ICD_SAMPLE_LIMIT", 10)
	v.SetDefault("NAMASTE_SEARCH_LIMIT", 50)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if !cfg.RemoteEnabled() {
		log.Println("WARNING: WHO_CLIENT_ID/WHO_CLIENT_SECRET not set; ICD-11 lookups are served from the local cache only.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// RemoteEnabled reports whether WHO client credentials are configured. When
// false the server never contacts the ICD-11 API.
func (c *Config) RemoteEnabled() bool {
	return c.WHOClientID != "" && c.WHOClientSecret != ""
}

// DatabaseDriver returns "postgres" or "sqlite" based on the DATABASE_URL
// scheme, or an empty string when the scheme is not recognised.
func (c *Config) DatabaseDriver() string {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"), strings.HasPrefix(c.DatabaseURL, "file:"):
		return "sqlite"
	}
	return ""
}

// SQLitePath strips the sqlite:// prefix. file: URIs are passed through to
// the driver unchanged.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
}

// Warnings lists settings that are accepted but probably not intended.
// Partial WHO credentials leave the server in cache-only mode.
func (c *Config) Warnings() []string {
	var w []string
	switch {
	case c.WHOClientID != "" && c.WHOClientSecret == "":
		w = append(w, "WHO_CLIENT_ID is set without WHO_CLIENT_SECRET; ICD-11 search runs cache-only")
	case c.WHOClientID == "" && c.WHOClientSecret != "":
		w = append(w, "WHO_CLIENT_SECRET is set without WHO_CLIENT_ID; ICD-11 search runs cache-only")
	}
	return w
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseDriver() == "" {
		return fmt.Errorf("DATABASE_URL must start with postgres://, postgresql://, sqlite:// or file:")
	}
	if c.RemoteEnabled() {
		if c.WHOTokenURL == "" {
			return fmt.Errorf("WHO_TOKEN_URL is required when WHO credentials are set")
		}
		if c.WHOSearchURL == "" {
			return fmt.Errorf("WHO_SEARCH_URL is required when WHO credentials are set")
		}
	}
	if c.WHOTimeout <= 0 {
		return fmt.Errorf("WHO_TIMEOUT must be positive, got %s", c.WHOTimeout)
	}
	if c.WHORetries < 0 || c.WHORetries > MaxRemoteRetries {
		return fmt.Errorf("WHO_RETRIES must be between 0 and %d, got %d", MaxRemoteRetries, c.WHORetries)
	}
	if c.ICDRemoteLimit <= 0 || c.ICDLocalLimit <= 0 || c.ICDSampleLimit <= 0 || c.NamasteSearchLimit <= 0 {
		return fmt.Errorf("search limits must be positive")
	}
	if c.CrosswalkCacheTTL <= 0 {
		return fmt.Errorf("CROSSWALK_CACHE_TTL must be positive, got %s", c.CrosswalkCacheTTL)
	}
	return nil
}
