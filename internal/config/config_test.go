package config

import (
	"slices"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_MemoryStoreDefaults(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.SummaryMaxRecords != 20 {
		t.Errorf("expected default summary bound 20, got %d", cfg.SummaryMaxRecords)
	}
	if cfg.DirectoryTimeout != 2*time.Second {
		t.Errorf("expected 2s directory timeout, got %s", cfg.DirectoryTimeout)
	}
	if !slices.Equal(cfg.KafkaBrokers, []string{"localhost:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoad_ParsesListsAndKeys(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("API_KEYS", "abc:emr-ui,def:mobile")
	t.Setenv("DIRECTORY_TIMEOUT", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(cfg.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.APIKeys["abc"] != "emr-ui" || cfg.APIKeys["def"] != "mobile" {
		t.Errorf("unexpected api keys %v", cfg.APIKeys)
	}
	if cfg.DirectoryTimeout != 750*time.Millisecond {
		t.Errorf("unexpected timeout %s", cfg.DirectoryTimeout)
	}
}

func TestLoad_RejectsMalformedAPIKeys(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("API_KEYS", "no-client-here")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed API_KEYS")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{Env: "development", Store: StoreMemory, DBMaxConns: 10, DBMinConns: 1, Workers: 4, TraceSampleRate: 1, SummaryMaxRecords: 20}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown store", func(c *Config) { c.Store = "mongo" }, true},
		{"min above max", func(c *Config) { c.DBMinConns = 11 }, true},
		{"no workers", func(c *Config) { c.Workers = 0 }, true},
		{"sample rate", func(c *Config) { c.TraceSampleRate = 1.5 }, true},
		{"production without keys", func(c *Config) { c.Env = "production" }, true},
		{"production with keys", func(c *Config) { c.Env = "production"; c.APIKeys = map[string]string{"k": "c"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Logger(t *testing.T) {
	c := &Config{Env: "production", LogLevel: "warn"}
	logger, err := c.Logger()
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(-1) {
		t.Error("debug should be disabled at warn level")
	}
	c.LogLevel = "loud"
	if _, err := c.Logger(); err == nil {
		t.Error("expected error for unknown level")
	}
}
