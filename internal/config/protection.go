package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ProtectionConfig is the hot-reloadable policy for the billing protection
// pipeline: finalize retries, stale-reservation sweeping and health thresholds.
type ProtectionConfig struct {
	Finalize FinalizeConfig `mapstructure:"finalize"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Health   HealthConfig   `mapstructure:"health"`
}

type FinalizeConfig struct {
	MaxAttempts                    int  `mapstructure:"maxAttempts"`
	BaseDelayMs                    int  `mapstructure:"baseDelayMs"`
	FailRequestOnPersistentFailure bool `mapstructure:"failRequestOnPersistentFailure"`
}

type SweepConfig struct {
	IntervalSeconds      int `mapstructure:"intervalSeconds"`
	MaxPendingAgeSeconds int `mapstructure:"maxPendingAgeSeconds"`
	BatchSize            int `mapstructure:"batchSize"`
}

type HealthConfig struct {
	WindowHours         int     `mapstructure:"windowHours"`
	DegradedSuccessRate float64 `mapstructure:"degradedSuccessRate"`
	StaleAgeSeconds     int     `mapstructure:"staleAgeSeconds"`
}

func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		Finalize: FinalizeConfig{
			MaxAttempts:                    3,
			BaseDelayMs:                    1000,
			FailRequestOnPersistentFailure: true,
		},
		Sweep: SweepConfig{
			IntervalSeconds:      60,
			MaxPendingAgeSeconds: 900,
			BatchSize:            100,
		},
		Health: HealthConfig{
			WindowHours:         24,
			DegradedSuccessRate: 0.99,
			StaleAgeSeconds:     900,
		},
	}
}

func (c SweepConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c SweepConfig) MaxPendingAge() time.Duration {
	return time.Duration(c.MaxPendingAgeSeconds) * time.Second
}

func (c FinalizeConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

func (c HealthConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

func (c HealthConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleAgeSeconds) * time.Second
}

// ProtectionConfigHolder serves the current config to readers while the file
// watcher swaps it underneath.
type ProtectionConfigHolder struct {
	current atomic.Value // holds ProtectionConfig
}

// NewProtectionConfigHolder reads protection.yml if present and keeps it hot.
func NewProtectionConfigHolder() (*ProtectionConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("protection")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fieldline/config") // Volume-mounted config
	v.AddConfigPath("/etc/fieldline")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("FIELDLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultProtectionConfig()
	v.SetDefault("protection.finalize.maxAttempts", defaults.Finalize.MaxAttempts)
	v.SetDefault("protection.finalize.baseDelayMs", defaults.Finalize.BaseDelayMs)
	v.SetDefault("protection.finalize.failRequestOnPersistentFailure", defaults.Finalize.FailRequestOnPersistentFailure)
	v.SetDefault("protection.sweep.intervalSeconds", defaults.Sweep.IntervalSeconds)
	v.SetDefault("protection.sweep.maxPendingAgeSeconds", defaults.Sweep.MaxPendingAgeSeconds)
	v.SetDefault("protection.sweep.batchSize", defaults.Sweep.BatchSize)
	v.SetDefault("protection.health.windowHours", defaults.Health.WindowHours)
	v.SetDefault("protection.health.degradedSuccessRate", defaults.Health.DegradedSuccessRate)
	v.SetDefault("protection.health.staleAgeSeconds", defaults.Health.StaleAgeSeconds)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg ProtectionConfig
	if err := v.UnmarshalKey("protection", &cfg); err != nil {
		return nil, err
	}
	if err := validateProtectionConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ProtectionConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated ProtectionConfig
			if err := v.UnmarshalKey("protection", &updated); err != nil {
				log.Printf("[protection-config] reload failed: %v", err)
				return
			}
			if err := validateProtectionConfig(updated); err != nil {
				log.Printf("[protection-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[protection-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticProtectionHolder wraps a fixed config, for tests and embedding.
func NewStaticProtectionHolder(cfg ProtectionConfig) *ProtectionConfigHolder {
	holder := &ProtectionConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ProtectionConfigHolder) Get() ProtectionConfig {
	return h.current.Load().(ProtectionConfig)
}

func validateProtectionConfig(cfg ProtectionConfig) error {
	if cfg.Finalize.MaxAttempts < 1 {
		return errors.New("protection.finalize.maxAttempts must be at least 1")
	}
	if cfg.Finalize.BaseDelayMs < 0 {
		return errors.New("protection.finalize.baseDelayMs cannot be negative")
	}
	if cfg.Sweep.IntervalSeconds <= 0 {
		return errors.New("protection.sweep.intervalSeconds must be positive")
	}
	if cfg.Sweep.MaxPendingAgeSeconds <= 0 {
		return errors.New("protection.sweep.maxPendingAgeSeconds must be positive")
	}
	if cfg.Health.DegradedSuccessRate <= 0 || cfg.Health.DegradedSuccessRate > 1 {
		return errors.New("protection.health.degradedSuccessRate must be in (0, 1]")
	}
	return nil
}
