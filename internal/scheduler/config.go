// Package scheduler runs the daemon's periodic background jobs.
package scheduler

import (
	"time"

	"github.com/elfradio/elfradio/internal/config"
)

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of job runs in flight at once.
	GlobalMax int `yaml:"global_max"`
	// DevicePollInterval is how often registered devices are probed.
	DevicePollInterval time.Duration `yaml:"device_poll_interval"`
	// NetworkCheckInterval is how often internet connectivity is checked.
	NetworkCheckInterval time.Duration `yaml:"network_check_interval"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax:            4,
		DevicePollInterval:   5 * time.Second,
		NetworkCheckInterval: 60 * time.Second,
	}
}

// FromSettings derives the scheduler configuration from the application
// config. Non-positive intervals keep their defaults.
func FromSettings(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if s := cfg.Scheduler.DevicePollIntervalS; s > 0 {
		c.DevicePollInterval = time.Duration(s) * time.Second
	}
	if s := cfg.Network.CheckIntervalS; s > 0 {
		c.NetworkCheckInterval = time.Duration(s) * time.Second
	}
	return c
}
