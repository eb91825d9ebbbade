package rest_api

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/fr0ster/turbo-speech/api_errors"
	"github.com/fr0ster/turbo-speech/config"
)

// MaxBackoff caps the computed exponential wait. A server Retry-After hint
// is not capped.
const MaxBackoff = 30 * time.Second

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy drives attempts until success, a fatal failure, or
// MaxRetries+1 attempts. The policy itself is stateless and safe to share;
// backoff state lives inside each Do call.
type RetryPolicy struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleeper        Sleeper
	logger         logrus.FieldLogger
	onRetry        func(attempt int, err *api_errors.Error, wait time.Duration)
}

type RetryOption func(*RetryPolicy)

func WithSleeper(s Sleeper) RetryOption {
	return func(p *RetryPolicy) { p.sleeper = s }
}

func WithRetryLogger(l logrus.FieldLogger) RetryOption {
	return func(p *RetryPolicy) { p.logger = l }
}

// WithOnRetry is called before each wait. attempt is the 1-based number of
// the attempt that just failed.
func WithOnRetry(f func(attempt int, err *api_errors.Error, wait time.Duration)) RetryOption {
	return func(p *RetryPolicy) { p.onRetry = f }
}

func WithMaxBackoff(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.maxBackoff = d }
}

func NewRetryPolicy(cfg config.ClientConfig, opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     MaxBackoff,
		sleeper:        timerSleeper{},
		logger:         logrus.StandardLogger(),
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

func (p *RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Schedule returns the computed (hint-free) waits for n consecutive retries.
func (p *RetryPolicy) Schedule(n int) []time.Duration {
	b := p.newBackOff()
	waits := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		waits = append(waits, p.next(b))
	}
	return waits
}

func (p *RetryPolicy) next(b *backoff.ExponentialBackOff) time.Duration {
	d := b.NextBackOff()
	if d > p.maxBackoff {
		d = p.maxBackoff
	}
	return d
}

// Do runs attempt until it succeeds, fails fatally, or retries run out.
// Only retryable failures are ever suppressed; on exhaustion the last one is
// returned with the attempt count attached.
func (p *RetryPolicy) Do(ctx context.Context, attempt func(ctx context.Context) Outcome) (Outcome, error) {
	b := p.newBackOff()
	for n := 0; ; n++ {
		out := attempt(ctx)
		switch out.Kind {
		case OutcomeSuccess:
			if n > 0 {
				p.logger.WithField("attempts", n+1).Debug("request succeeded after retry")
			}
			return out, nil
		case OutcomeFatal:
			return out, out.failure().WithAttempts(n + 1)
		}

		// The exponential schedule advances on every retryable failure,
		// even when a hint replaces this particular wait.
		wait := p.next(b)
		failure := out.failure()
		if n >= p.maxRetries {
			p.logger.WithFields(logrus.Fields{
				"attempts": n + 1,
				"failure":  failure.Kind.String(),
			}).Warn("retries exhausted")
			return out, failure.WithAttempts(n + 1)
		}
		if hint, ok := out.RetryAfter(); ok {
			wait = hint
		}

		p.logger.WithFields(logrus.Fields{
			"attempt": n + 1,
			"status":  out.Status,
			"failure": failure.Kind.String(),
			"delay":   wait,
		}).Warn("retrying request")
		if p.onRetry != nil {
			p.onRetry(n+1, failure, wait)
		}

		if err := p.sleeper.Sleep(ctx, wait); err != nil {
			return out, api_errors.Wrap(api_errors.KindCanceled, "retry wait aborted", err).WithAttempts(n + 1)
		}
	}
}
