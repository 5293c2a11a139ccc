package scheduler

import (
	"time"

	"github.com/smallbiznis/answerline/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
	// Enabled is false when no metering provider is configured.
	Enabled bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 10 * time.Minute,
		JobTimeout:  2 * time.Minute,
		BatchSize:   100,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.MeteringSweepInterval,
		JobTimeout:  cfg.Scheduler.MeteringSweepTimeout,
		BatchSize:   cfg.Scheduler.MeteringSweepBatch,
		Enabled:     cfg.Stripe.MeteringEnabled(),
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}
