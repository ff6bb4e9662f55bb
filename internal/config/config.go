package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the authority.
type Config struct {
	Addr     string `env:"AUTHGRID_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"AUTHGRID_GRPC_ADDR" envDefault:":8081"`
	LogLevel string `env:"AUTHGRID_LOG_LEVEL" envDefault:"info"`

	// PostgresDSN backs the account repository, the key store and (unless
	// Redis is configured) the session store. Empty means in-memory stores,
	// intended for local development only.
	PostgresDSN string `env:"AUTHGRID_PG_DSN"`

	// RedisAddr, when set, moves session storage to Redis.
	RedisAddr     string `env:"AUTHGRID_REDIS_ADDR"`
	RedisPassword string `env:"AUTHGRID_REDIS_PASSWORD"`
	RedisDB       int    `env:"AUTHGRID_REDIS_DB" envDefault:"0"`

	Issuer     string `env:"AUTHGRID_ISSUER" envDefault:"authgrid"`
	BcryptCost int    `env:"AUTHGRID_BCRYPT_COST" envDefault:"12"`

	// BootstrapEmail/BootstrapPassword, when both set, ensure an admin
	// account exists on startup. First-run convenience; a no-op once the
	// account is there.
	BootstrapEmail    string `env:"AUTHGRID_BOOTSTRAP_EMAIL"`
	BootstrapPassword string `env:"AUTHGRID_BOOTSTRAP_PASSWORD"`

	TokenLifetime    time.Duration `env:"AUTHGRID_TOKEN_LIFETIME" envDefault:"15m"`
	SessionLifetime  time.Duration `env:"AUTHGRID_SESSION_LIFETIME" envDefault:"24h"`
	RenewalThreshold time.Duration `env:"AUTHGRID_RENEWAL_THRESHOLD" envDefault:"5m"`
	RotationInterval time.Duration `env:"AUTHGRID_ROTATION_INTERVAL" envDefault:"24h"`
	KeyGraceWindow   time.Duration `env:"AUTHGRID_KEY_GRACE_WINDOW" envDefault:"1h"`
}

// Load reads configuration from the environment, honoring a local .env file
// when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces cross-field invariants. The grace window check matters
// for correctness: a token must never outlive the verifiability of the key
// that signed it.
func (c *Config) Validate() error {
	if c.TokenLifetime <= 0 {
		return errors.New("config: token lifetime must be positive")
	}
	if c.SessionLifetime <= c.TokenLifetime {
		return errors.New("config: session lifetime must exceed token lifetime")
	}
	if c.RenewalThreshold <= 0 || c.RenewalThreshold >= c.TokenLifetime {
		return errors.New("config: renewal threshold must be positive and below token lifetime")
	}
	if c.KeyGraceWindow <= c.TokenLifetime {
		return errors.New("config: key grace window must exceed token lifetime")
	}
	if c.RotationInterval <= 0 {
		return errors.New("config: rotation interval must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: bcrypt cost out of range")
	}
	return nil
}
