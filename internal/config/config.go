// Package config loads the settings shared by every medsched binary from the
// environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
	"github.com/drfirst/go-medsched/internal/observability/tracing"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	Store             string        `mapstructure:"STORE"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	ConsumerGroup     string        `mapstructure:"CONSUMER_GROUP"`
	Workers           int           `mapstructure:"WORKERS"`
	DirectoryURL      string        `mapstructure:"DIRECTORY_URL"`
	DirectoryTimeout  time.Duration `mapstructure:"DIRECTORY_TIMEOUT"`
	OTLPEndpoint      string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate   float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	APIKeysRaw        string        `mapstructure:"API_KEYS"`
	SummaryMaxRecords int           `mapstructure:"SUMMARY_MAX_RECORDS"`

	// APIKeys maps an API key to the client it identifies, parsed from API_KEYS.
	APIKeys map[string]string `mapstructure:"-"`
}

var keys = []string{
	"ENV", "PORT", "LOG_LEVEL", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"KAFKA_BROKERS", "CONSUMER_GROUP", "WORKERS", "DIRECTORY_URL", "DIRECTORY_TIMEOUT",
	"OTLP_ENDPOINT", "TRACE_SAMPLE_RATE", "API_KEYS", "SUMMARY_MAX_RECORDS",
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("CONSUMER_GROUP", "medsched-reconcile")
	v.SetDefault("WORKERS", 16)
	v.SetDefault("DIRECTORY_TIMEOUT", "2s")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("SUMMARY_MAX_RECORDS", 20)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.KafkaBrokers = splitCSV(strings.Join(cfg.KafkaBrokers, ","))
	apiKeys, err := parseAPIKeys(cfg.APIKeysRaw)
	if err != nil {
		return nil, err
	}
	cfg.APIKeys = apiKeys

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects settings the binaries cannot run with.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0,1], got %v", c.TraceSampleRate)
	}
	if c.SummaryMaxRecords <= 0 {
		return fmt.Errorf("SUMMARY_MAX_RECORDS must be positive, got %d", c.SummaryMaxRecords)
	}
	if !c.IsDev() && len(c.APIKeys) == 0 {
		return fmt.Errorf("API_KEYS is required outside development (ENV=%q)", c.Env)
	}
	return nil
}

// parseAPIKeys reads "key:client,key2:client2".
func parseAPIKeys(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitCSV(raw) {
		key, client, ok := strings.Cut(pair, ":")
		if !ok || key == "" || client == "" {
			return nil, fmt.Errorf("API_KEYS entry %q must be key:client", pair)
		}
		out[key] = client
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pool returns the database pool settings.
func (c *Config) Pool() postgres.PoolConfig {
	return postgres.PoolConfig{URL: c.DatabaseURL, MaxConns: c.DBMaxConns, MinConns: c.DBMinConns}
}

// Tracing returns the tracer settings for service.
func (c *Config) Tracing(service, version string) tracing.Config {
	tc := tracing.DefaultConfig(service)
	tc.ServiceVersion = version
	tc.Environment = c.Env
	tc.OTLPEndpoint = c.OTLPEndpoint
	tc.SampleRate = c.TraceSampleRate
	return tc
}
