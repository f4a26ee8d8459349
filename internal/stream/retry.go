package stream

import "time"

const (
	DefaultMaxNetworkRetries = 6
	DefaultRetryBaseDelay    = 500 * time.Millisecond
	DefaultRetryMaxDelay     = 8 * time.Second
)

// RetryPolicy bounds load restarts after fatal network errors. Once
// MaxNetworkRetries consecutive restarts have failed the session goes fatal.
type RetryPolicy struct {
	MaxNetworkRetries int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// DefaultRetryPolicy returns the production policy: 6 attempts, 500ms
// doubling up to 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxNetworkRetries: DefaultMaxNetworkRetries,
		BaseDelay:         DefaultRetryBaseDelay,
		MaxDelay:          DefaultRetryMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxNetworkRetries < 0 {
		p.MaxNetworkRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the wait before restart number attempt (zero-based):
// BaseDelay * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	wait := p.BaseDelay
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return wait
}
