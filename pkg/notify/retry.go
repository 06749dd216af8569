package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryConfig defines backoff for transient store errors.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the defaults used when config leaves them unset.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	}
}

// Retrier re-runs operations that failed because the store was still
// loading. Every other error is returned on the first attempt.
type Retrier struct {
	cfg RetryConfig
	log zerolog.Logger
}

// NewRetrier creates a Retrier. Zero fields in cfg take the defaults.
func NewRetrier(cfg RetryConfig, log zerolog.Logger) *Retrier {
	def := DefaultRetryConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = def.MaxElapsedTime
	}
	return &Retrier{cfg: cfg, log: log}
}

// Do runs fn until it succeeds, fails permanently, the backoff budget is
// spent or ctx is done.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxElapsedTime = r.cfg.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.log.Info().Str("operation", op).Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}
		if !Classify(err).Transient() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		r.log.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("retrying operation after error")
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

// Wrap returns a RetryFunc that runs retry through the backoff policy.
func (r *Retrier) Wrap(op string, retry RetryFunc) RetryFunc {
	if retry == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return r.Do(ctx, op, retry)
	}
}
