// Package config содержит логику чтения конфигурации клиента заказов LocalHub.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/localhub-client/internal/pricing"
)

// Config содержит параметры конфигурации клиента.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	UpstreamAddress string `env:"UPSTREAM_ADDRESS"`
	// DatabaseURI включает журнал попыток оформления в Postgres. Если не задан, журнал хранится в памяти.
	DatabaseURI string `env:"DATABASE_URI"`
	// RedisAddress включает хранение корзин в Redis. Если не задан, корзины хранит сервис корзин.
	RedisAddress string        `env:"REDIS_ADDRESS"`
	CartTTL      time.Duration `env:"CART_TTL"`

	DetailPollInterval time.Duration `env:"DETAIL_POLL_INTERVAL"`
	ListPollInterval   time.Duration `env:"LIST_POLL_INTERVAL"`

	AgentDeliveryFee decimal.Decimal `env:"AGENT_DELIVERY_FEE"`

	UpstreamTimeout  time.Duration `env:"UPSTREAM_TIMEOUT"`
	UpstreamRetryMax int           `env:"UPSTREAM_RETRY_MAX"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{AllowedOrigins: []string{"*"}}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.UpstreamAddress, "u", "", "LocalHub API address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for placement journal")
	flag.StringVar(&cfg.RedisAddress, "c", "", "redis address for cart storage")
	flag.DurationVar(&cfg.CartTTL, "cart-ttl", 24*time.Hour, "redis cart expiry")
	flag.DurationVar(&cfg.DetailPollInterval, "detail-poll", 10*time.Second, "order detail poll interval")
	flag.DurationVar(&cfg.ListPollInterval, "list-poll", 30*time.Second, "order list poll interval")
	flag.TextVar(&cfg.AgentDeliveryFee, "agent-fee", pricing.DefaultAgentFee, "agent delivery fee")
	flag.DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", 5*time.Second, "upstream request timeout")
	flag.IntVar(&cfg.UpstreamRetryMax, "upstream-retries", 2, "upstream retry count")
	flag.Func("origins", "comma-separated CORS origins", func(s string) error {
		cfg.AllowedOrigins = splitList(s)
		return nil
	})

	flag.Parse()

	// env заполняет только заданные переменные, поэтому значения флагов остаются для остальных.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.UpstreamAddress == "" {
		return errors.New("upstream address is required")
	}
	if c.DetailPollInterval <= 0 || c.ListPollInterval <= 0 {
		return errors.New("poll intervals must be positive")
	}
	if c.AgentDeliveryFee.IsNegative() {
		return errors.New("agent delivery fee must not be negative")
	}
	if c.UpstreamRetryMax < 0 {
		return errors.New("upstream retry count must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
