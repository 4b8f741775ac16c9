package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Env        string           `mapstructure:"env"`
	Debug      bool             `mapstructure:"debug"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	P2P        P2PConfig        `mapstructure:"p2p"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       bool          `mapstructure:"rate_limit"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`
}

type P2PConfig struct {
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	ArbiterWallets      []string      `mapstructure:"arbiter_wallets"`
}

type SettlementConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	ClaimLease  time.Duration `mapstructure:"claim_lease"`
}

// IsProduction reports whether pretty logging and debug defaults should be off
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("debug", false)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.rate_limit", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "p2p.db")

	v.SetDefault("auth.jwt_secret", "p2p-dev-secret")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.challenge_ttl", 5*time.Minute)

	v.SetDefault("p2p.expiry_sweep_interval", 30*time.Second)
	v.SetDefault("p2p.arbiter_wallets", []string{})

	v.SetDefault("settlement.interval", 15*time.Second)
	v.SetDefault("settlement.max_attempts", 5)
	v.SetDefault("settlement.retry_delay", time.Minute)
	v.SetDefault("settlement.claim_lease", 5*time.Minute)
}

// Load reads configuration from an optional .env file, an optional config file
// and P2P_ prefixed environment variables, in increasing order of precedence.
// An empty path looks for ./config.yaml.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment only")
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("P2P")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "p2p-dev-secret" {
		return errors.New("auth.jwt_secret must be changed in production")
	}
	if c.P2P.ExpirySweepInterval <= 0 || c.Settlement.Interval <= 0 {
		return errors.New("processor intervals must be positive")
	}
	if c.Settlement.MaxAttempts < 1 {
		return errors.New("settlement.max_attempts must be at least 1")
	}
	return nil
}
