// Copyright 2024-2026 Aiku AI

package connector

import (
	"math"
	"time"
)

// BackoffConfig controls how retry delays grow across consecutive failures.
type BackoffConfig struct {
	InitialDelay time.Duration
	// Multiplier below 1 (or NaN) is treated as 1 (fixed delay).
	Multiplier float64
	MaxDelay   time.Duration
}

// NextBackoffDelay returns the delay before retry number attempt (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	if !(cfg.Multiplier >= 1.0) {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
