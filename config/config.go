package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"todoshare/store"
	"todoshare/utils"
)

const Production = "production"

// Config keeps runtime settings for the service.
type Config struct {
	Env         string
	Addr        string
	DatabaseURL string
	RedisURL    string

	TokenSecret    []byte
	TokenAlgorithm string
	// GeneratedSecret is true when TokenSecret was made up for this process.
	GeneratedSecret bool

	BCryptCost       int
	LoginMaxAttempts int
	LoginLockout     time.Duration

	LogLevel        slog.Level
	ShutdownTimeout time.Duration
}

func (c Config) IsProduction() bool {
	return c.Env == Production
}

// Load reads configuration from environment variables with sane defaults.
// Outside production a .env file in the working directory is loaded first.
func Load() (Config, error) {
	if os.Getenv("APP_ENV") != Production {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:            env("APP_ENV"),
		Addr:           env("ADDR"),
		DatabaseURL:    env("DATABASE_URL"),
		RedisURL:       env("REDIS_URL"),
		TokenSecret:    []byte(env("TOKEN_SECRET")),
		TokenAlgorithm: env("TOKEN_ALGORITHM"),
	}

	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = store.DefaultSQLitePath
	}
	if cfg.TokenAlgorithm == "" {
		cfg.TokenAlgorithm = "HS256"
	}

	var err error
	if cfg.BCryptCost, err = intVar("BCRYPT_COST", bcrypt.DefaultCost); err != nil {
		return Config{}, err
	}
	if cfg.BCryptCost < bcrypt.MinCost || cfg.BCryptCost > bcrypt.MaxCost {
		return Config{}, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.LoginMaxAttempts, err = intVar("LOGIN_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.LoginLockout, err = durationVar("LOGIN_LOCKOUT", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationVar("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = parseLevel(env("LOG_LEVEL")); err != nil {
		return Config{}, err
	}

	if len(cfg.TokenSecret) == 0 {
		if cfg.IsProduction() {
			return Config{}, errors.New("TOKEN_SECRET is required in production")
		}
		secret, err := utils.GenerateToken(32)
		if err != nil {
			return Config{}, err
		}
		cfg.TokenSecret = []byte(secret)
		cfg.GeneratedSecret = true
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func intVar(key string, def int) (int, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationVar(key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func parseLevel(raw string) (slog.Level, error) {
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
