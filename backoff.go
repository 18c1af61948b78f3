package petnotify

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
)

// BackoffPolicy computes the reconnect delay from the attempt count:
// min(Base * 2^attempt, Cap). With Jitter > 0 a random share of Base, up to
// Jitter*Base, is added before capping, so Delay never exceeds Cap.
type BackoffPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns the 1s..30s policy without jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: DefaultReconnectBaseDelay, Cap: DefaultReconnectMaxDelay}
}

// Delay returns the wait before reconnect attempt number attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	base, ceiling := p.Base, p.Cap
	if base <= 0 {
		base = DefaultReconnectBaseDelay
	}
	if ceiling <= 0 {
		ceiling = DefaultReconnectMaxDelay
	}
	if attempt < 0 {
		attempt = 0
	}

	// Saturate instead of doubling past the ceiling so a large Cap cannot
	// overflow time.Duration.
	delay := base
	for i := 0; i < attempt && delay < ceiling; i++ {
		if delay > ceiling/2 {
			delay = ceiling
			break
		}
		delay *= 2
	}

	if p.Jitter > 0 && delay < ceiling {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		room := ceiling - delay
		if j := r() * p.Jitter * float64(base); j >= float64(room) || time.Duration(j) > room {
			delay = ceiling
		} else {
			delay += time.Duration(j)
		}
	}
	return min(delay, ceiling)
}
