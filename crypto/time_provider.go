package crypto

import "time"

// TimeProvider is the clock a node reads. The subsystems take explicit
// time.Time arguments on their Poll entry points; the facade obtains
// those readings from a TimeProvider, so a synthetic clock substituted
// here reaches every timer in one move.
//
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider reads the system clock.
type DefaultTimeProvider struct{}

func (DefaultTimeProvider) Now() time.Time { return time.Now() }

func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// SetDefaultTimeProvider replaces the clock handed to nodes created
// afterwards; install it before constructing them. Passing nil
// restores the system clock.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	defaultTimeProvider = tp
}

// GetDefaultTimeProvider returns the clock new nodes read.
func GetDefaultTimeProvider() TimeProvider {
	return defaultTimeProvider
}
