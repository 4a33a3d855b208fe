// Package config loads service configuration from defaults, an optional
// YAML file and LOGOWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/logowatch/internal/notify"
)

// EnvPrefix prefixes every environment override, e.g. LOGOWATCH_POLL_INTERVAL.
const EnvPrefix = "LOGOWATCH"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Poll     PollConfig     `mapstructure:"poll"`
	History  HistoryConfig  `mapstructure:"history"`
	Live     LiveConfig     `mapstructure:"live"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Notify   notify.Config  `mapstructure:"notify"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type UpstreamConfig struct {
	URL           string        `mapstructure:"url" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gt=0"`
}

type PollConfig struct {
	Interval         time.Duration `mapstructure:"interval" validate:"gt=0"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" validate:"gte=1"`
	Backoff          time.Duration `mapstructure:"backoff" validate:"gt=0"`
}

type HistoryConfig struct {
	Capacity int `mapstructure:"capacity" validate:"gte=0"` // 0 keeps every entry
}

type LiveConfig struct {
	QueueSize int    `mapstructure:"queue_size" validate:"gte=1"`
	CatchUp   string `mapstructure:"catch_up" validate:"oneof=none latest all"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("upstream.url", "https://logo-api.g2.iterate.no/logo")
	v.SetDefault("upstream.timeout", 5*time.Second)
	v.SetDefault("upstream.rate_per_second", 1.0)
	v.SetDefault("poll.interval", 10*time.Second)
	v.SetDefault("poll.failure_threshold", 5)
	v.SetDefault("poll.backoff", time.Minute)
	v.SetDefault("history.capacity", 0)
	v.SetDefault("live.queue_size", 16)
	v.SetDefault("live.catch_up", "latest")
	v.SetDefault("logging.level", "info")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "frame_with_picture")
	v.SetDefault("notify.token", "")
}

// Load reads configuration. An empty configPath looks for
// ./configs/default.yaml and ./default.yaml and tolerates neither existing.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
