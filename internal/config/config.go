// Package config содержит логику чтения конфигурации сервиса взносов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса взносов.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	IdentityAddress string `env:"IDENTITY_ADDRESS"`
	GatewayAddress  string `env:"GATEWAY_ADDRESS"`

	AuthSecret       string `env:"AUTH_SECRET" envDefault:"dues-secret"`
	OperatorLogin    string `env:"OPERATOR_LOGIN" envDefault:"admin"`
	OperatorPassword string `env:"OPERATOR_PASSWORD" envDefault:"admin"`

	Currency     string `env:"CURRENCY" envDefault:"MXN"`
	ResidentRole string `env:"RESIDENT_ROLE" envDefault:"resident"`

	// DueDay — число месяца, на которое назначается платёж.
	// GraceDays — длина льготного окна после даты платежа, 0 отключает его.
	DueDay    int `env:"DUE_DAY" envDefault:"10"`
	GraceDays int `env:"GRACE_DAYS" envDefault:"5"`

	DelinquencyThresholdDays int    `env:"DELINQUENCY_THRESHOLD_DAYS" envDefault:"30"`
	PenaltySchedule          string `env:"PENALTY_SCHEDULE" envDefault:"10:5,30:10,60:20"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envIdentityAddress := cfg.IdentityAddress
	envGatewayAddress := cfg.GatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.IdentityAddress, "i", "", "identity service address")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envIdentityAddress != "" {
		cfg.IdentityAddress = envIdentityAddress
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.DueDay < 1 || cfg.DueDay > 28 {
		return nil, fmt.Errorf("due day must be within 1..28, got %d", cfg.DueDay)
	}
	if cfg.GraceDays < 0 {
		return nil, fmt.Errorf("grace days must not be negative, got %d", cfg.GraceDays)
	}
	if cfg.DelinquencyThresholdDays < 1 {
		return nil, fmt.Errorf("delinquency threshold must be positive, got %d", cfg.DelinquencyThresholdDays)
	}

	return cfg, nil
}
