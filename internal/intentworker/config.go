package intentworker

import (
	"time"

	appconfig "github.com/onetimesecret/billing/internal/config"
)

// Config controls the migration intent worker loop.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	SuccessURL   string
	CancelURL    string
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    25,
		PollInterval: 30 * time.Second,
	}
}

func FromAppConfig(cfg appconfig.Config) Config {
	return Config{
		BatchSize:    cfg.IntentBatchSize,
		PollInterval: cfg.IntentPollPeriod,
		SuccessURL:   cfg.CheckoutSuccessURL,
		CancelURL:    cfg.CheckoutCancelURL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	return c
}
