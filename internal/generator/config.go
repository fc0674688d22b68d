package generator

import "time"

// Config drives the synthetic callback generator.
type Config struct {
	NumCallbacks int
	// MerchantRatio is the share of callbacks that are merchant (C2B)
	// confirmations; the rest are push results.
	MerchantRatio float64
	// FailureRatio and CancelRatio split push results between failed and
	// cancelled outcomes. The remainder succeed.
	FailureRatio float64
	CancelRatio  float64
	// DuplicateRatio is the chance a callback is redelivered verbatim.
	DuplicateRatio float64
	NumSubscribers int
	ShortCode      string
	Seed           int64
	// Start anchors generated transaction times; zero means now.
	Start time.Time
}

// DefaultConfig returns a small mixed dataset suitable for local replays.
func DefaultConfig() Config {
	return Config{
		NumCallbacks:   1000,
		MerchantRatio:  0.4,
		FailureRatio:   0.1,
		CancelRatio:    0.15,
		DuplicateRatio: 0.05,
		NumSubscribers: 200,
		ShortCode:      "174379",
		Seed:           42,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NumCallbacks <= 0 {
		c.NumCallbacks = def.NumCallbacks
	}
	if c.NumSubscribers <= 0 {
		c.NumSubscribers = def.NumSubscribers
	}
	if c.ShortCode == "" {
		c.ShortCode = def.ShortCode
	}
	c.MerchantRatio = clamp(c.MerchantRatio)
	c.FailureRatio = clamp(c.FailureRatio)
	c.CancelRatio = clamp(c.CancelRatio)
	if c.FailureRatio+c.CancelRatio > 1 {
		c.CancelRatio = 1 - c.FailureRatio
	}
	c.DuplicateRatio = clamp(c.DuplicateRatio)
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Start.IsZero() {
		c.Start = time.Now().UTC()
	}
	return c
}

func clamp(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
