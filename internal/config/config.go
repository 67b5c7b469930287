// Package config содержит логику чтения конфигурации магазина.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации магазина.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	BotToken        string `env:"BOT_TOKEN"`
	AdminTelegramID int64  `env:"ADMIN_TELEGRAM_ID"`
	AuthSecret      string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами. Пустой DatabaseURI означает хранение в памяти.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, empty for in-memory storage")
	flag.StringVar(&cfg.BotToken, "t", "", "telegram bot token")
	flag.Int64Var(&cfg.AdminTelegramID, "admin", 0, "telegram id of the bootstrap admin")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth tokens")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.BotToken != "" {
		cfg.BotToken = envCfg.BotToken
	}
	if envCfg.AdminTelegramID != 0 {
		cfg.AdminTelegramID = envCfg.AdminTelegramID
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.AdminTelegramID < 0 {
		return nil, fmt.Errorf("admin telegram id must be positive, got %d", cfg.AdminTelegramID)
	}

	return cfg, nil
}
