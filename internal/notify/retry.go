package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// Retrying resends on transient failures. Permanent refusals return at once;
// throttling waits for the server-provided delay.
type Retrying struct {
	next   Sender
	config RetryConfig
	logger zerolog.Logger
}

func NewRetrying(next Sender, config RetryConfig, logger *zerolog.Logger) *Retrying {
	if len(config.RetryDelays) == 0 {
		config.RetryDelays = DefaultRetryConfig().RetryDelays
	}
	return &Retrying{
		next:   next,
		config: config,
		logger: logger.With().Str("component", "notify_retry").Logger(),
	}
}

func (r *Retrying) Send(ctx context.Context, recipient, subject, body string) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		err := r.next.Send(ctx, recipient, subject, body)
		if err == nil {
			return nil
		}
		lastErr = err

		var dErr *DeliveryError
		if errors.As(err, &dErr) && dErr.Permanent {
			r.logger.Warn().Err(err).Str("to", recipient).Msg("permanent delivery failure")
			return err
		}
		if attempt == r.config.MaxRetries {
			break
		}

		delay := r.delay(attempt)
		if dErr != nil && dErr.RetryAfter > 0 {
			delay = dErr.RetryAfter
		}
		r.logger.Info().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", r.config.MaxRetries).
			Dur("delay", delay).
			Msg("retrying notification")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.logger.Error().Err(lastErr).Str("to", recipient).Msg("max retries exceeded for notification")
	return lastErr
}

func (r *Retrying) delay(attempt int) time.Duration {
	if attempt < len(r.config.RetryDelays) {
		return r.config.RetryDelays[attempt]
	}
	return r.config.RetryDelays[len(r.config.RetryDelays)-1]
}
