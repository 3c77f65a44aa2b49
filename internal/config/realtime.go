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

// RealtimeConfig tunes socket heartbeats, fan-out workers and push delivery.
type RealtimeConfig struct {
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	PongWait       time.Duration `mapstructure:"pongWait"`
	WriteWait      time.Duration `mapstructure:"writeWait"`
	SendBuffer     int           `mapstructure:"sendBuffer"`
	MaxMessageSize int64         `mapstructure:"maxMessageSize"`

	RouterWorkers   int `mapstructure:"routerWorkers"`
	RouterQueueSize int `mapstructure:"routerQueueSize"`

	PushTimeout         time.Duration `mapstructure:"pushTimeout"`
	PushConcurrency     int           `mapstructure:"pushConcurrency"`
	BreakerMaxFailures  int           `mapstructure:"breakerMaxFailures"`
	BreakerResetTimeout time.Duration `mapstructure:"breakerResetTimeout"`
}

func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		PingInterval:        25 * time.Second,
		PongWait:            60 * time.Second,
		WriteWait:           10 * time.Second,
		SendBuffer:          64,
		MaxMessageSize:      4096,
		RouterWorkers:       8,
		RouterQueueSize:     1024,
		PushTimeout:         5 * time.Second,
		PushConcurrency:     4,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

type RealtimeConfigHolder struct {
	current atomic.Value // holds RealtimeConfig
}

// NewStaticRealtimeConfig returns a holder that never reloads.
func NewStaticRealtimeConfig(cfg RealtimeConfig) *RealtimeConfigHolder {
	holder := &RealtimeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewRealtimeConfigHolder(log *zap.Logger) (*RealtimeConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.realtime")

	v := viper.New()

	v.SetConfigName("realtime")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tableside/config")
	v.AddConfigPath("/etc/tableside")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TABLESIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRealtimeConfig()
	v.SetDefault("realtime.pingInterval", defaults.PingInterval)
	v.SetDefault("realtime.pongWait", defaults.PongWait)
	v.SetDefault("realtime.writeWait", defaults.WriteWait)
	v.SetDefault("realtime.sendBuffer", defaults.SendBuffer)
	v.SetDefault("realtime.maxMessageSize", defaults.MaxMessageSize)
	v.SetDefault("realtime.routerWorkers", defaults.RouterWorkers)
	v.SetDefault("realtime.routerQueueSize", defaults.RouterQueueSize)
	v.SetDefault("realtime.pushTimeout", defaults.PushTimeout)
	v.SetDefault("realtime.pushConcurrency", defaults.PushConcurrency)
	v.SetDefault("realtime.breakerMaxFailures", defaults.BreakerMaxFailures)
	v.SetDefault("realtime.breakerResetTimeout", defaults.BreakerResetTimeout)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg RealtimeConfig
	if err := v.UnmarshalKey("realtime", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateRealtimeConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticRealtimeConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RealtimeConfig
		if err := v.UnmarshalKey("realtime", &updated); err != nil {
			log.Warn("realtime config reload failed", zap.Error(err))
			return
		}
		if err := ValidateRealtimeConfig(updated); err != nil {
			log.Warn("invalid realtime config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("realtime config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *RealtimeConfigHolder) Get() RealtimeConfig {
	if h == nil {
		return DefaultRealtimeConfig()
	}
	cfg, ok := h.current.Load().(RealtimeConfig)
	if !ok {
		return DefaultRealtimeConfig()
	}
	return cfg
}

func ValidateRealtimeConfig(cfg RealtimeConfig) error {
	if cfg.PingInterval <= 0 || cfg.PongWait <= 0 || cfg.WriteWait <= 0 {
		return errors.New("realtime heartbeat durations must be positive")
	}
	if cfg.PongWait <= cfg.PingInterval {
		return errors.New("realtime.pongWait must exceed realtime.pingInterval")
	}
	if cfg.SendBuffer <= 0 {
		return errors.New("realtime.sendBuffer must be positive")
	}
	if cfg.RouterWorkers <= 0 || cfg.RouterQueueSize <= 0 {
		return errors.New("realtime router workers and queue size must be positive")
	}
	if cfg.PushTimeout <= 0 {
		return errors.New("realtime.pushTimeout must be positive")
	}
	if cfg.BreakerMaxFailures <= 0 || cfg.BreakerResetTimeout <= 0 {
		return errors.New("realtime breaker thresholds must be positive")
	}
	return nil
}
