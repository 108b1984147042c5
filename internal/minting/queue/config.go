package queue

import "time"

// Config controls retry scheduling. Zero fields take the defaults below.
type Config struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            float64       `yaml:"jitter"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	ItemDelay         time.Duration `yaml:"item_delay"`
}

// Defaults.
const (
	DefaultMaxRetries        = 5
	DefaultBaseDelay         = 15 * time.Second
	DefaultMaxDelay          = 300 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultJitter            = 0.1
	DefaultTickInterval      = 30 * time.Second
	DefaultItemDelay         = 2 * time.Second

	minDelay = time.Second
)

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        DefaultMaxRetries,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		Jitter:            DefaultJitter,
		TickInterval:      DefaultTickInterval,
		ItemDelay:         DefaultItemDelay,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	// ItemDelay may legitimately be zero.
	if c.ItemDelay < 0 {
		c.ItemDelay = 0
	}
	return c
}
