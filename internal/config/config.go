package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const EnvProduction = "production"

type Config struct {
	Env      string `env:"APP_ENV" env-default:"development"`
	HTTPAddr string `env:"HTTP_ADDR" env-default:":8080"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	PostgresDSN string `env:"POSTGRES_DSN" env-required:"true"`
	RedisAddr   string `env:"REDIS_ADDR" env-default:"localhost:6379"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" env-default:"auth-events"`
	KafkaGroupID    string   `env:"KAFKA_GROUP_ID" env-default:"adminauth-audit"`

	JWTSecret          string `env:"JWT_SECRET" env-required:"true"`
	RefreshTokenSecret string `env:"REFRESH_TOKEN_SECRET" env-required:"true"`

	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" env-default:"5"`
	LoginLockout     time.Duration `env:"LOGIN_LOCKOUT" env-default:"15m"`

	OTelEnabled bool `env:"OTEL_ENABLED" env-default:"false"`

	// TrustProxyHeaders takes client IPs from X-Forwarded-For.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" env-default:"false"`
}

// IsProduction reports whether cookies must carry the Secure attribute.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load reads an optional .env file and then the process environment. Signing
// secrets have no fallback: a missing or shared secret is an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment only", "error", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded", "env", cfg.Env, "http_addr", cfg.HTTPAddr, "redis_addr", cfg.RedisAddr, "kafka_brokers", cfg.KafkaBrokers)
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" || c.RefreshTokenSecret == "" {
		return fmt.Errorf("JWT_SECRET and REFRESH_TOKEN_SECRET must be set")
	}
	if c.JWTSecret == c.RefreshTokenSecret {
		return fmt.Errorf("JWT_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.LoginMaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be positive, got %d", c.LoginMaxAttempts)
	}
	return nil
}
