package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port                  string   `envconfig:"PORT" default:"8080"`
	AllowedOrigin         string   `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL           string   `envconfig:"DATABASE_URL"`
	RedisAddr             string   `envconfig:"REDIS_ADDR"`
	RedisPassword         string   `envconfig:"REDIS_PASSWORD"`
	RedisDB               int      `envconfig:"REDIS_DB" default:"0"`
	HeldOrderTTLMinutes   int      `envconfig:"HELD_ORDER_TTL_MINUTES" default:"720"`
	KafkaBrokers          []string `envconfig:"KAFKA_BROKERS"`
	KafkaSalesTopic       string   `envconfig:"KAFKA_SALES_TOPIC" default:"pos.sales.committed"`
	AuthSecret            string   `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int      `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	StoreTimezone         string   `envconfig:"STORE_TIMEZONE" default:"Asia/Jakarta"`
	LogLevel              string   `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment. Values
// already present in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.KafkaBrokers = trimBrokers(cfg.KafkaBrokers)
	if cfg.HeldOrderTTLMinutes < 1 {
		cfg.HeldOrderTTLMinutes = 720
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location is the store's time zone. Promo windows are evaluated in it.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.StoreTimezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

func (c Config) HeldOrderTTL() time.Duration {
	return time.Duration(c.HeldOrderTTLMinutes) * time.Minute
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func trimBrokers(raw []string) []string {
	brokers := make([]string, 0, len(raw))
	for _, b := range raw {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
