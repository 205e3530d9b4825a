package config

import (
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type KeySourceConfig struct {
	Path          string `mapstructure:"path"`
	PruneOnReload bool   `mapstructure:"prune_on_reload"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	FlushInterval string `mapstructure:"flush_interval"`
}

type RetryConfig struct {
	MaxRetries    int     `mapstructure:"max_retries"`
	BaseDelay     string  `mapstructure:"base_delay"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
}

type CacheConfig struct {
	// Capacity overrides the pool-size-derived recency capacity. Zero
	// keeps the derived policy.
	Capacity int `mapstructure:"capacity"`
}

type SelectionConfig struct {
	MinInterval string `mapstructure:"min_interval"`
}

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	KeySource   KeySourceConfig `mapstructure:"key_source"`
	Store       StoreConfig     `mapstructure:"store"`
	Retry       RetryConfig     `mapstructure:"retry"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Selection   SelectionConfig `mapstructure:"selection"`
}

func Load() (*Config, error) {
	// A .env file, when present, feeds the environment before viper reads it
	_ = godotenv.Load()

	viper.SetDefault("environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("key_source.path", "")
	viper.SetDefault("key_source.prune_on_reload", false)
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.dsn", "key-balancer.db")
	viper.SetDefault("store.flush_interval", "2s")
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.base_delay", "1s")
	viper.SetDefault("retry.backoff_factor", 2.0)
	viper.SetDefault("cache.capacity", 0)
	viper.SetDefault("selection.min_interval", "0s")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Store,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StoreConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StoreConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Driver,
						validation.Required,
						validation.In("sqlite", "mysql", "postgres"),
					),
					validation.Field(&sc.DSN,
						validation.Required,
					),
					validation.Field(&sc.FlushInterval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Retry,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxRetries,
						validation.Min(0),
					),
					validation.Field(&rc.BaseDelay,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.BackoffFactor,
						validation.Required,
						validation.Min(1.0),
					),
				)
			}),
		),
		validation.Field(&c.Cache,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CacheConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CacheConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.Capacity,
						validation.Min(0),
					),
				)
			}),
		),
		validation.Field(&c.Selection,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SelectionConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SelectionConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.MinInterval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}
