package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Store    string `env:"STORE" envDefault:"postgres"`
	DBSource string `env:"DB_SOURCE"`
	Port     string `env:"SERVER_PORT" envDefault:"8080"`
	Env      string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"teampool:events"`

	// AmountDecimals is the number of minor-unit digits in one whole unit.
	AmountDecimals int32 `env:"AMOUNT_DECIMALS" envDefault:"9"`

	RateLimitRPS         float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst       int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	IdempotencyCacheSize int     `env:"IDEMPOTENCY_CACHE_SIZE" envDefault:"10000"`

	// DevFunding exposes POST /api/v1/accounts/{id}/fund on the memory store.
	DevFunding bool `env:"DEV_FUNDING" envDefault:"false"`

	Policy Policy `envPrefix:"POOL_"`
}

// Policy mirrors service.Policy so the config package stays dependency free.
type Policy struct {
	UniqueMembers   bool   `env:"UNIQUE_MEMBERS" envDefault:"true"`
	StrictClose     bool   `env:"STRICT_CLOSE" envDefault:"false"`
	StrictPayout    bool   `env:"STRICT_PAYOUT" envDefault:"false"`
	MaxMembersLimit uint32 `env:"MAX_MEMBERS_LIMIT" envDefault:"256"`
}

// Load reads the optional .env files (default ".env") and then the process environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	if c.AmountDecimals < 0 || c.AmountDecimals > 18 {
		return fmt.Errorf("AMOUNT_DECIMALS must be between 0 and 18, got %d", c.AmountDecimals)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.IdempotencyCacheSize <= 0 {
		return fmt.Errorf("IDEMPOTENCY_CACHE_SIZE must be positive")
	}
	if c.DevFunding && (c.Store != StoreMemory || c.IsProduction()) {
		return fmt.Errorf("DEV_FUNDING requires STORE=memory outside production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
