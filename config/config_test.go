package config

import (
	"os"
	"testing"
	"time"
)

var envVars = []string{
	"REDIS_URL", "REDIS_PASSWORD", "REDIS_TTL_DEFAULT", "REDIS_TTL_PRODUCTS",
	"REDIS_TTL_PROMOTIONS", "CACHE_L1_MAX_ENTRIES", "CACHE_L1_MAX_TTL",
	"CACHE_REMOTE_TIMEOUT", "CACHE_INVALIDATION_CHANNEL", "CACHE_SINGLEFLIGHT",
	"LOG_LEVEL", "LOG_FORMAT", "ADMIN_ADDR", "METRICS_ADDR", "TRACE_STDOUT",
}

// clearEnv unsets every variable Load reads and restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.RedisURL != "" || cfg.HasRemote() {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
	if got := cfg.TTL(ClassDefault); got != time.Hour {
		t.Errorf("TTL(default) = %v, want 1h", got)
	}
	if got := cfg.TTL(ClassProducts); got != 24*time.Hour {
		t.Errorf("TTL(products) = %v, want 24h", got)
	}
	if got := cfg.TTL(ClassPromotions); got != 30*time.Minute {
		t.Errorf("TTL(promotions) = %v, want 30m", got)
	}
	if cfg.L1MaxEntries != 500 {
		t.Errorf("L1MaxEntries = %d, want 500", cfg.L1MaxEntries)
	}
	if cfg.L1MaxTTL != 0 {
		t.Errorf("L1MaxTTL = %v, want 0", cfg.L1MaxTTL)
	}
	if cfg.RemoteTimeout != 100*time.Millisecond {
		t.Errorf("RemoteTimeout = %v, want 100ms", cfg.RemoteTimeout)
	}
	if cfg.InvalidationChannel != DefaultChannel {
		t.Errorf("InvalidationChannel = %q, want %q", cfg.InvalidationChannel, DefaultChannel)
	}
	if cfg.Singleflight || cfg.TraceStdout {
		t.Error("boolean settings should default to false")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log settings = %q/%q, want info/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AdminAddr != ":9090" || cfg.MetricsAddr != ":9091" {
		t.Errorf("listeners = %q/%q", cfg.AdminAddr, cfg.MetricsAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://cache.internal:6379/2")
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("REDIS_TTL_PRODUCTS", "120")
	t.Setenv("CACHE_L1_MAX_ENTRIES", "1000")
	t.Setenv("CACHE_L1_MAX_TTL", "60s")
	t.Setenv("CACHE_REMOTE_TIMEOUT", "250ms")
	t.Setenv("CACHE_INVALIDATION_CHANNEL", "")
	t.Setenv("CACHE_SINGLEFLIGHT", "true")
	t.Setenv("LOG_FORMAT", "console")

	cfg := Load()

	if !cfg.HasRemote() || cfg.RedisPassword != "s3cret" {
		t.Errorf("remote settings not loaded: %+v", cfg)
	}
	if got := cfg.TTL(ClassProducts); got != 2*time.Minute {
		t.Errorf("TTL(products) = %v, want 2m", got)
	}
	if cfg.L1MaxEntries != 1000 || cfg.L1MaxTTL != time.Minute || cfg.RemoteTimeout != 250*time.Millisecond {
		t.Errorf("cache settings not loaded: %+v", cfg)
	}
	if cfg.InvalidationChannel != "" {
		t.Errorf("explicitly empty channel should disable broadcast, got %q", cfg.InvalidationChannel)
	}
	if !cfg.Singleflight {
		t.Error("Singleflight should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoad_UnparsableFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_L1_MAX_ENTRIES", "lots")
	t.Setenv("CACHE_REMOTE_TIMEOUT", "soon")
	t.Setenv("CACHE_SINGLEFLIGHT", "maybe")

	cfg := Load()
	if cfg.L1MaxEntries != 500 {
		t.Errorf("L1MaxEntries = %d, want 500", cfg.L1MaxEntries)
	}
	if cfg.RemoteTimeout != 100*time.Millisecond {
		t.Errorf("RemoteTimeout = %v, want 100ms", cfg.RemoteTimeout)
	}
	if cfg.Singleflight {
		t.Error("Singleflight should fall back to false")
	}
}

func TestTTL_UnknownClassUsesDefault(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	if got := cfg.TTL("reviews"); got != cfg.TTL(ClassDefault) {
		t.Errorf("TTL(reviews) = %v, want default %v", got, cfg.TTL(ClassDefault))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"rediss scheme", func(c *Config) { c.RedisURL = "rediss://host:6380" }, false},
		{"bad scheme", func(c *Config) { c.RedisURL = "http://host:6379" }, true},
		{"zero capacity", func(c *Config) { c.L1MaxEntries = 0 }, true},
		{"negative max ttl", func(c *Config) { c.L1MaxTTL = -time.Second }, true},
		{"zero remote timeout", func(c *Config) { c.RemoteTimeout = 0 }, true},
		{"negative class", func(c *Config) { c.TTLClasses[ClassProducts] = -time.Second }, true},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"empty admin", func(c *Config) { c.AdminAddr = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
