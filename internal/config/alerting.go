package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DispatchConfig tunes outbound webhook delivery. It is hot-reloaded from
// alerting.yml so operators can adjust timeouts without a restart.
type DispatchConfig struct {
	AttemptTimeout    time.Duration `mapstructure:"attemptTimeout"`
	ResponseBodyLimit int           `mapstructure:"responseBodyLimit"`
	Concurrency       int           `mapstructure:"concurrency"`
	DefaultMaxRetries int           `mapstructure:"defaultMaxRetries"`
	DefaultRetryDelay time.Duration `mapstructure:"defaultRetryDelay"`
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		AttemptTimeout:    10 * time.Second,
		ResponseBodyLimit: 1000,
		Concurrency:       0,
		DefaultMaxRetries: 3,
		DefaultRetryDelay: time.Second,
	}
}

type AlertingConfigHolder struct {
	current atomic.Value // holds DispatchConfig
}

// NewStaticAlertingConfig returns a holder that never reloads.
func NewStaticAlertingConfig(cfg DispatchConfig) *AlertingConfigHolder {
	holder := &AlertingConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewAlertingConfigHolder(log *zap.Logger) (*AlertingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.alerting")

	v := viper.New()

	v.SetConfigName("alerting")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/crmalerts")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CRMALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDispatchConfig()
	v.SetDefault("dispatch.attemptTimeout", defaults.AttemptTimeout)
	v.SetDefault("dispatch.responseBodyLimit", defaults.ResponseBodyLimit)
	v.SetDefault("dispatch.concurrency", defaults.Concurrency)
	v.SetDefault("dispatch.defaultMaxRetries", defaults.DefaultMaxRetries)
	v.SetDefault("dispatch.defaultRetryDelay", defaults.DefaultRetryDelay)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg DispatchConfig
	if err := v.UnmarshalKey("dispatch", &cfg); err != nil {
		return nil, err
	}
	if err := validateDispatchConfig(cfg); err != nil {
		return nil, err
	}

	holder := &AlertingConfigHolder{}
	holder.current.Store(cfg.withDefaults())

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated DispatchConfig
			if err := v.UnmarshalKey("dispatch", &updated); err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if err := validateDispatchConfig(updated); err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated.withDefaults())
			log.Info("reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *AlertingConfigHolder) Get() DispatchConfig {
	if h == nil {
		return DefaultDispatchConfig()
	}
	return h.current.Load().(DispatchConfig)
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	defaults := DefaultDispatchConfig()
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaults.AttemptTimeout
	}
	if c.ResponseBodyLimit <= 0 {
		c.ResponseBodyLimit = defaults.ResponseBodyLimit
	}
	if c.Concurrency < 0 {
		c.Concurrency = 0
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = defaults.DefaultMaxRetries
	}
	if c.DefaultRetryDelay < 0 {
		c.DefaultRetryDelay = defaults.DefaultRetryDelay
	}
	return c
}

func validateDispatchConfig(cfg DispatchConfig) error {
	if cfg.AttemptTimeout < 0 {
		return errors.New("dispatch.attemptTimeout cannot be negative")
	}
	if cfg.ResponseBodyLimit < 0 {
		return errors.New("dispatch.responseBodyLimit cannot be negative")
	}
	return nil
}
