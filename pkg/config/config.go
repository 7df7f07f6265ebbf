// Package config loads server settings from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds every setting the server reads at startup
type Config struct {
	Port  string `env:"PORT" envDefault:"8080"`
	Debug bool   `env:"DEBUG" envDefault:"false"`

	APIKeys        []string `env:"API_KEYS" envSeparator:","`
	FrontendOrigin string   `env:"FRONTEND_ORIGIN"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DatabaseURL  string `env:"DATABASE_URL"`

	WritePolicy string        `env:"WRITE_POLICY" envDefault:"cas"`
	CASRetries  int           `env:"CAS_RETRIES" envDefault:"3"`
	ClockTick   time.Duration `env:"CLOCK_TICK" envDefault:"1s"`

	LobbyStaleAfter      time.Duration `env:"LOBBY_STALE_AFTER" envDefault:"24h"`
	LobbyJanitorSchedule string        `env:"LOBBY_JANITOR_SCHEDULE" envDefault:"@hourly"`
}

// Load reads the optional env files, then parses the environment. Values
// already present in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.WritePolicy {
	case "cas", "lww":
	default:
		return fmt.Errorf("unknown WRITE_POLICY %q", c.WritePolicy)
	}

	if c.CASRetries < 0 {
		return fmt.Errorf("CAS_RETRIES must not be negative")
	}
	if c.ClockTick <= 0 || c.ClockTick > time.Second {
		return fmt.Errorf("CLOCK_TICK must be positive and at most 1s")
	}
	if c.LobbyStaleAfter <= 0 {
		return fmt.Errorf("LOBBY_STALE_AFTER must be positive")
	}

	return nil
}
