// Package config loads server settings from a YAML file, BOOKSTORE_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		DevMode         bool          `mapstructure:"dev_mode"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Database struct {
		// Driver is "sqlite" or "memory".
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"database"`

	Store struct {
		LockTimeout time.Duration `mapstructure:"lock_timeout"`
	} `mapstructure:"store"`

	Auth struct {
		Secret   string        `mapstructure:"secret"`
		TokenTTL time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	OTP struct {
		Length        int           `mapstructure:"length"`
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		// Expose puts the code in the response prompt. Test environments only.
		Expose bool `mapstructure:"expose"`
	} `mapstructure:"otp"`

	Content struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"content"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	Seed struct {
		File string `mapstructure:"file"`
	} `mapstructure:"seed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./bookstore.db")

	v.SetDefault("store.lock_timeout", 5*time.Second)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("otp.length", 4)
	v.SetDefault("otp.ttl", 5*time.Minute)
	v.SetDefault("otp.sweep_interval", time.Minute)
	v.SetDefault("otp.expose", false)

	v.SetDefault("content.dir", "./content")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("seed.file", "")
}

// Load reads path (optional, empty means defaults + environment only).
// Callers apply flag overrides and then call Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOOKSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("config: otp.length must be between 4 and 10, got %d", c.OTP.Length)
	}
	if c.Store.LockTimeout <= 0 {
		return errors.New("config: store.lock_timeout must be positive")
	}
	if c.Auth.Secret == "" && !c.Server.DevMode {
		return errors.New("config: auth.secret is required outside dev mode")
	}
	return nil
}
