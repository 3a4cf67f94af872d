package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator throttles calls to an underlying TextGenerator with a
// token bucket. Waiting honours the caller's context, so an arbitration
// deadline also bounds time spent queued behind the limiter.
type RateLimitedGenerator struct {
	next    TextGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator allows rps requests per second with the given burst.
// A burst below 1 is raised to 1.
func NewRateLimitedGenerator(next TextGenerator, rps float64, burst int) *RateLimitedGenerator {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for a token and delegates to the wrapped generator.
func (g *RateLimitedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return g.next.Complete(ctx, prompt)
}

// GetModel returns the wrapped generator's model.
func (g *RateLimitedGenerator) GetModel() string {
	return g.next.GetModel()
}

var _ TextGenerator = (*RateLimitedGenerator)(nil)
