package completion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"holyagents.arpa/tools/random"
)

// Unconfigured fails every request with missing-credentials. It stands in for the
// provider when no API key was supplied so the app still serves its screens.
type Unconfigured struct{}

func (Unconfigured) Complete(ctx context.Context, req Request) (Message, error) {
	return Message{}, Fail(KindMissingCredentials, ErrMissingCredentials)
}

// Throttled shares one token bucket across every session calling the provider.
type Throttled struct {
	next    Client
	limiter *rate.Limiter
}

func NewThrottled(next Client, limit rate.Limit, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (t *Throttled) Complete(ctx context.Context, req Request) (Message, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, Fail(classify(ctxErr), err)
		}
		// Wait refuses up front when the deadline can't cover the reservation
		return Message{}, Fail(KindRateLimited, err)
	}
	return t.next.Complete(ctx, req)
}

// Retrying repeats rate-limited requests with exponential, jittered backoff.
// Other failure kinds are returned as-is.
type Retrying struct {
	log      *zap.Logger
	next     Client
	attempts int
	backoff  time.Duration
}

func NewRetrying(log *zap.Logger, next Client, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Retrying{
		log:      log,
		next:     next,
		attempts: attempts,
		backoff:  backoff,
	}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (Message, error) {
	delay := r.backoff
	for attempt := 1; ; attempt++ {
		msg, err := r.next.Complete(ctx, req)
		if err == nil || !Retryable(err) || attempt >= r.attempts {
			return msg, err
		}

		wait := random.Jitter(delay, 0.5)
		r.log.Warn("Completion rate limited, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Message{}, Fail(classify(ctx.Err()), fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err()))
		case <-timer.C:
		}
		delay *= 2
	}
}
