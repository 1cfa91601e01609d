package connection

import (
	"math"
	"time"
)

// BackoffConfig controls reconnect timing.
type BackoffConfig struct {
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Cap on the computed delay
	Multiplier  float64       // Growth factor per attempt
	MaxAttempts int           // Retries before giving up
}

// DefaultBackoffConfig returns sensible defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  1.5,
		MaxAttempts: 10,
	}
}

// Policy computes reconnect delays. It is a pure function of the attempt
// number; the Supervisor owns the attempt counter.
type Policy struct {
	cfg BackoffConfig
}

// NewPolicy creates a Policy, filling zero fields with defaults.
func NewPolicy(cfg BackoffConfig) *Policy {
	def := DefaultBackoffConfig()
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Policy{cfg: cfg}
}

// Delay returns the wait before retry number attempt (1-based) and
// whether a retry should happen at all. Once attempt exceeds
// MaxAttempts, ok is false and the caller must stop scheduling.
func (p *Policy) Delay(attempt int) (delay time.Duration, ok bool) {
	if attempt > p.cfg.MaxAttempts {
		return 0, false
	}

	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt-1))
	if d > float64(p.cfg.MaxDelay) {
		return p.cfg.MaxDelay, true
	}
	return time.Duration(d), true
}

// MaxAttempts returns the configured retry limit.
func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}
