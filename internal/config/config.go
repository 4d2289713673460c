package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the quota and sharing server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Quota    QuotaConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// NATSConfig configures the outbound event connection. URL may be empty;
// events then go to the log instead.
type NATSConfig struct {
	URL string
}

type QuotaConfig struct {
	// FlushEvery writes counters through to the durable store on every Nth
	// increment of a key.
	FlushEvery int64
	// FlushProbability adds a random per-increment write-through chance.
	FlushProbability float64
	// ThrottleDelay applies to the throttle enforcement action.
	ThrottleDelay time.Duration
	// ResetSweepInterval is how often the background sweep looks for quotas
	// due to reset.
	ResetSweepInterval time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SERVER_PORT", 8080),
			Env:  envString("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		NATS: NATSConfig{
			URL: os.Getenv("NATS_URL"),
		},
		Quota: QuotaConfig{
			FlushEvery:         envInt64("QUOTA_FLUSH_EVERY", 10),
			FlushProbability:   envFloat("QUOTA_FLUSH_PROBABILITY", 0.01),
			ThrottleDelay:      envDuration("QUOTA_THROTTLE_DELAY", 500*time.Millisecond),
			ResetSweepInterval: envDuration("QUOTA_RESET_SWEEP_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Quota.FlushEvery < 0 {
		return fmt.Errorf("QUOTA_FLUSH_EVERY must not be negative, got %d", c.Quota.FlushEvery)
	}
	if c.Quota.FlushProbability < 0 || c.Quota.FlushProbability > 1 {
		return fmt.Errorf("QUOTA_FLUSH_PROBABILITY must be between 0 and 1, got %g", c.Quota.FlushProbability)
	}
	if c.Quota.ResetSweepInterval < time.Second {
		return fmt.Errorf("QUOTA_RESET_SWEEP_INTERVAL must be at least 1s, got %s", c.Quota.ResetSweepInterval)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
