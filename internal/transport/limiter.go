package transport

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// NewLimiter returns a limiter allowing rps requests per second, or nil
// when rps is zero or negative. The burst equals the ceiling of rps so that
// a freshly started worker pool is not serialized.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// WaitLimiter blocks on l until a token is available. A nil limiter never blocks.
func WaitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
