package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port           string        `yaml:"port"`
	Mode           string        `yaml:"mode"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SecureCookies  bool          `yaml:"secure_cookies"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	URL          string `yaml:"url"`
	JSONPath     string `yaml:"json_path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type CartConfig struct {
	StoreTimeout    time.Duration `yaml:"store_timeout"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	AbandonAfter    time.Duration `yaml:"abandon_after"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type I18nConfig struct {
	DefaultLang  string `yaml:"default_lang"`
	FallbackLang string `yaml:"fallback_lang"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cart      CartConfig      `yaml:"cart"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
	I18n      I18nConfig      `yaml:"i18n"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8082",
			Mode:           "release",
			TrustedProxies: []string{"127.0.0.1", "::1"},
			CORSOrigins:    []string{"*"},
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "json",
			JSONPath:     "./data.json",
			MaxOpenConns: 10,
		},
		Cart: CartConfig{
			StoreTimeout:    3 * time.Second,
			RetryBackoff:    100 * time.Millisecond,
			CleanupInterval: time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Admin: AdminConfig{Username: "admin"},
		Log:   LogConfig{Level: "info"},
		I18n:  I18nConfig{DefaultLang: "zh", FallbackLang: "en"},
	}
}

// Load starts from Default, applies the YAML file at path (if present) and
// then the environment. A .env file, if present, fills the environment
// without overriding variables already set.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Mode, "GIN_MODE")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.JSONPath, "DATABASE_JSON_PATH")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Admin.Username, "ADMIN_USERNAME")
	setString(&c.Admin.PasswordHash, "ADMIN_PASSWORD_HASH")

	if v := os.Getenv("CART_ABANDON_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CART_ABANDON_AFTER: %w", err)
		}
		c.Cart.AbandonAfter = d
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.RequestsPerSecond = rps
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "json":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server mode %q", c.Server.Mode)
	}
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	for name, d := range map[string]time.Duration{
		"cart.store_timeout":    c.Cart.StoreTimeout,
		"cart.retry_backoff":    c.Cart.RetryBackoff,
		"cart.abandon_after":    c.Cart.AbandonAfter,
		"cart.cleanup_interval": c.Cart.CleanupInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Cart.AbandonAfter > 0 && c.Cart.CleanupInterval == 0 {
		return errors.New("cart.cleanup_interval is required when cart.abandon_after is set")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	return nil
}
