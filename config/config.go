// Package config loads the query cache settings from the environment.
//
// Environment variables:
//
// Remote tier:
//   - REDIS_URL: remote endpoint, redis://host:port/db (default: empty, L1 only)
//   - REDIS_PASSWORD: credential, overrides the one in REDIS_URL
//   - REDIS_TTL_DEFAULT: seconds for the "default" TTL class (default: 3600)
//   - REDIS_TTL_PRODUCTS: seconds for the "products" TTL class (default: 86400)
//   - REDIS_TTL_PROMOTIONS: seconds for the "promotions" TTL class (default: 1800)
//
// Cache behaviour:
//   - CACHE_L1_MAX_ENTRIES: in-process capacity (default: 500)
//   - CACHE_L1_MAX_TTL: cap on in-process lifetime, Go duration (default: 0, no cap)
//   - CACHE_REMOTE_TIMEOUT: per remote call (default: 100ms)
//   - CACHE_INVALIDATION_CHANNEL: pub/sub channel, empty disables (default: cache:invalidate)
//   - CACHE_SINGLEFLIGHT: deduplicate concurrent fetches (default: false)
//
// Process:
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - LOG_FORMAT: json or console (default: json)
//   - ADMIN_ADDR: gRPC admin listener (default: :9090)
//   - METRICS_ADDR: Prometheus listener (default: :9091)
//   - TRACE_STDOUT: print spans to stdout (default: false)
//
// Unset or unparsable values fall back to the defaults. Call Validate on the
// result before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TTL class names understood by [Config.TTL].
const (
	ClassDefault    = "default"
	ClassProducts   = "products"
	ClassPromotions = "promotions"
)

// DefaultChannel is the pub/sub channel used for invalidation broadcasts.
const DefaultChannel = "cache:invalidate"

// Config holds every setting read by Load.
type Config struct {
	RedisURL      string
	RedisPassword string

	// TTLClasses maps a class name to its default lifetime.
	TTLClasses map[string]time.Duration

	L1MaxEntries        int
	L1MaxTTL            time.Duration
	RemoteTimeout       time.Duration
	InvalidationChannel string
	Singleflight        bool

	LogLevel    string
	LogFormat   string
	AdminAddr   string
	MetricsAddr string
	TraceStdout bool
}

// Load returns a Config populated from the environment.
func Load() *Config {
	return &Config{
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		TTLClasses: map[string]time.Duration{
			ClassDefault:    getSecondsEnv("REDIS_TTL_DEFAULT", 3600),
			ClassProducts:   getSecondsEnv("REDIS_TTL_PRODUCTS", 86400),
			ClassPromotions: getSecondsEnv("REDIS_TTL_PROMOTIONS", 1800),
		},

		L1MaxEntries:        getIntEnv("CACHE_L1_MAX_ENTRIES", 500),
		L1MaxTTL:            getDurationEnv("CACHE_L1_MAX_TTL", 0),
		RemoteTimeout:       getDurationEnv("CACHE_REMOTE_TIMEOUT", 100*time.Millisecond),
		InvalidationChannel: lookupEnv("CACHE_INVALIDATION_CHANNEL", DefaultChannel),
		Singleflight:        getBoolEnv("CACHE_SINGLEFLIGHT", false),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		AdminAddr:   getEnv("ADMIN_ADDR", ":9090"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9091"),
		TraceStdout: getBoolEnv("TRACE_STDOUT", false),
	}
}

// HasRemote reports whether a remote endpoint is configured.
func (c *Config) HasRemote() bool { return c.RedisURL != "" }

// TTL returns the lifetime of the named class, falling back to the
// "default" class for unknown names.
func (c *Config) TTL(class string) time.Duration {
	if d, ok := c.TTLClasses[class]; ok {
		return d
	}
	return c.TTLClasses[ClassDefault]
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		errs = append(errs, fmt.Errorf("REDIS_URL must use the redis:// or rediss:// scheme, got %q", c.RedisURL))
	}
	for name, d := range c.TTLClasses {
		if d < 0 {
			errs = append(errs, fmt.Errorf("TTL class %q must not be negative, got %s", name, d))
		}
	}
	if c.L1MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_L1_MAX_ENTRIES must be positive, got %d", c.L1MaxEntries))
	}
	if c.L1MaxTTL < 0 {
		errs = append(errs, fmt.Errorf("CACHE_L1_MAX_TTL must not be negative, got %s", c.L1MaxTTL))
	}
	if c.RemoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_REMOTE_TIMEOUT must be positive, got %s", c.RemoteTimeout))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	if c.AdminAddr == "" {
		errs = append(errs, errors.New("ADMIN_ADDR must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv keeps an explicitly empty value, so CACHE_INVALIDATION_CHANNEL=""
// disables broadcasting.
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultSeconds int) time.Duration {
	return time.Duration(getIntEnv(key, defaultSeconds)) * time.Second
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
