package wstransport

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines the dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func (config BackoffConfig) withDefaults() BackoffConfig {
	if config.InitialDelay <= 0 {
		config.InitialDelay = 250 * time.Millisecond
	}
	if config.Multiplier < 1.0 {
		config.Multiplier = 2.0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	return config
}

// nextBackoffDelay returns the retry delay after attempt N (1-based) failed.
func nextBackoffDelay(config BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return config.InitialDelay
	}
	if config.InitialDelay <= 0 {
		return 0
	}
	multiplier := config.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	delay := float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		factor := 0.5
		if rng != nil {
			factor = 0.5 + rng.Float64()
		}
		delay = delay * factor
	}
	return time.Duration(delay)
}
