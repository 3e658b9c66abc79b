package api

import "time"

// Config controls the inbound HTTP surface.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	CreateLimit  int
	CreateWindow time.Duration

	PollDefault time.Duration
	PollMax     time.Duration

	// Retention is the age window used for stats, matching the reaper's retention.
	Retention time.Duration
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 16 << 10,
		CreateLimit:  defaultCreateLimit,
		CreateWindow: defaultCreateWindow,
		PollDefault:  60 * time.Second,
		PollMax:      120 * time.Second,
		Retention:    10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.CreateLimit <= 0 {
		c.CreateLimit = def.CreateLimit
	}
	if c.CreateWindow <= 0 {
		c.CreateWindow = def.CreateWindow
	}
	if c.PollMax <= 0 {
		c.PollMax = def.PollMax
	}
	if c.PollDefault <= 0 {
		c.PollDefault = def.PollDefault
	}
	if c.PollDefault > c.PollMax {
		c.PollDefault = c.PollMax
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	return c
}
