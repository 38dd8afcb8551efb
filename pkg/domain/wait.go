package domain

import "time"

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 300 * time.Second
	DefaultMaxInterval  = 60 * time.Second
)

// WaitPolicy bounds client-side waiting. Backoff names a delay policy
// understood by internal/backoff; empty means fixed.
type WaitPolicy struct {
	Enabled      bool
	PollInterval time.Duration
	MaxWait      time.Duration
	Backoff      string
	MaxInterval  time.Duration
}

func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		Enabled:      true,
		PollInterval: DefaultPollInterval,
		MaxWait:      DefaultMaxWait,
		Backoff:      "fixed",
	}
}

// Normalize fills zero values with defaults.
func (p WaitPolicy) Normalize() WaitPolicy {
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.MaxWait <= 0 {
		p.MaxWait = DefaultMaxWait
	}
	if p.Backoff == "" {
		p.Backoff = "fixed"
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxInterval < p.PollInterval {
		p.MaxInterval = p.PollInterval
	}
	return p
}
