package cachemgr

import (
	"fmt"
	"time"
)

// Default thresholds and interval.
const (
	DefaultLow           = 0.65
	DefaultHigh          = 0.85
	DefaultCritical      = 0.95
	DefaultCheckInterval = 60 * time.Second
)

// Config holds memory utilisation thresholds as fractions of total memory.
type Config struct {
	Low           float64       `json:"low" yaml:"low"`
	High          float64       `json:"high" yaml:"high"`
	Critical      float64       `json:"critical" yaml:"critical"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Low:           DefaultLow,
		High:          DefaultHigh,
		Critical:      DefaultCritical,
		CheckInterval: DefaultCheckInterval,
	}
}

// Validate checks that 0 < Low < High < Critical <= 1 and the interval is
// positive.
func (c Config) Validate() error {
	if !(c.Low > 0 && c.Low < c.High && c.High < c.Critical && c.Critical <= 1) {
		return fmt.Errorf("cachemgr: thresholds must satisfy 0 < low < high < critical <= 1, got %g/%g/%g",
			c.Low, c.High, c.Critical)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("cachemgr: check interval must be positive, got %s", c.CheckInterval)
	}
	return nil
}
