package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	conductorerrors "github.com/tombee/promptflow/pkg/errors"
)

// RateLimiter throttles tool execution per tool name, for tools backed
// by rate-limited external APIs. It implements Interceptor so it plugs
// directly into Registry.SetInterceptor alongside (or instead of) a
// security interceptor.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	rps   float64
	burst int
}

// NewRateLimiter creates a RateLimiter admitting rps requests per second
// per tool name, with burst capacity admitted instantaneously.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(name string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.limiters[name] = l
	}
	return l
}

// Intercept blocks until the named tool's limiter admits one more call,
// or ctx is canceled. A cancellation is reported as a TimeoutError
// rather than the bare context error, so callers can distinguish "rate
// limit never admitted this call" from an unrelated cancellation
// further up the call chain.
func (rl *RateLimiter) Intercept(ctx context.Context, tool Tool, inputs map[string]interface{}) error {
	start := time.Now()
	if err := rl.limiterFor(tool.Name()).Wait(ctx); err != nil {
		return &conductorerrors.TimeoutError{
			Operation: fmt.Sprintf("rate limit wait for tool %q", tool.Name()),
			Duration:  time.Since(start),
			Cause:     err,
		}
	}
	return nil
}

// PostExecute is a no-op; the limiter only gates admission.
func (rl *RateLimiter) PostExecute(ctx context.Context, tool Tool, outputs map[string]interface{}, err error) {
}
