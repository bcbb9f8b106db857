// Package config loads and validates runtime configuration at startup.
// Values come from the environment, an optional .env file and an optional
// config.yaml. Fail-fast: invalid combinations return an error.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all runtime configuration for the listing service.
type Config struct {
	Port        string `mapstructure:"port"`
	GRPCPort    string `mapstructure:"grpc_port"`
	GinMode     string `mapstructure:"gin_mode"`
	LogLevel    string `mapstructure:"log_level"`
	StoreDriver string `mapstructure:"store_driver"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`

	SerpAPIKey     string `mapstructure:"serpapi_key"` // empty disables ingestion
	SerpAPIBaseURL string `mapstructure:"serpapi_base_url"`
	SearchQuery    string `mapstructure:"job_search_query"`
	ResultCount    int    `mapstructure:"serpapi_num"`

	IngestCron          string        `mapstructure:"ingest_cron"`
	IngestOnStart       bool          `mapstructure:"ingest_on_start"`
	IngestCycleTimeout  time.Duration `mapstructure:"ingest_cycle_timeout"`
	IngestExcludeTerms  string        `mapstructure:"ingest_exclude_terms"`
	AdminTriggerEnabled bool          `mapstructure:"admin_trigger_enabled"`
	CORSAllowedOrigins  string        `mapstructure:"cors_allowed_origins"`
}

var keys = []string{
	"port", "grpc_port", "gin_mode", "log_level", "store_driver", "database_url",
	"redis_url", "serpapi_key", "serpapi_base_url", "job_search_query", "serpapi_num",
	"ingest_cron", "ingest_on_start", "ingest_cycle_timeout", "ingest_exclude_terms",
	"admin_trigger_enabled", "cors_allowed_origins",
}

// Load reads configuration and returns a validated Config. configPath may be
// empty, in which case ./config.yaml is used when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("port", "8080")
	v.SetDefault("grpc_port", "9090")
	v.SetDefault("gin_mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("serpapi_base_url", "https://serpapi.com/search.json")
	v.SetDefault("job_search_query", "software developer jobs south africa")
	v.SetDefault("serpapi_num", 100)
	v.SetDefault("ingest_cron", "0 0,12 * * *")
	v.SetDefault("ingest_on_start", false)
	v.SetDefault("ingest_cycle_timeout", 2*time.Minute)
	v.SetDefault("admin_trigger_enabled", false)
	v.SetDefault("cors_allowed_origins", "*")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	// Every key is also readable from its upper-cased environment variable,
	// e.g. serpapi_key <- SERPAPI_KEY.
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", k)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverMemory:
	default:
		return errors.Newf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}

	if c.ResultCount < 1 {
		return errors.Newf("SERPAPI_NUM must be a positive integer, got %d", c.ResultCount)
	}
	if strings.TrimSpace(c.SearchQuery) == "" {
		return errors.New("JOB_SEARCH_QUERY must not be empty")
	}
	if c.IngestCycleTimeout <= 0 {
		return errors.Newf("INGEST_CYCLE_TIMEOUT must be positive, got %s", c.IngestCycleTimeout)
	}
	return nil
}

// ExcludeTerms returns the configured exclusion terms, trimmed, without blanks.
func (c *Config) ExcludeTerms() []string {
	return splitList(c.IngestExcludeTerms)
}

// AllowedOrigins returns the CORS origin list.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// IngestionEnabled reports whether a provider credential is configured.
func (c *Config) IngestionEnabled() bool {
	return c.SerpAPIKey != ""
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
