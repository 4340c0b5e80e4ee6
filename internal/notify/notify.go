// Package notify delivers confirmation and reminder messages.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// DeliveryError classifies a failed send so that retry logic can tell
// throttling and permanent refusals apart from transient faults.
type DeliveryError struct {
	Channel    string
	Code       int
	RetryAfter time.Duration
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed (code %d): %v", e.Channel, e.Code, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Log writes messages to the logger instead of delivering them. It is the
// fallback when no channel is configured.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger *zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (l *Log) Send(_ context.Context, recipient, subject, body string) error {
	l.logger.Info().Str("to", recipient).Str("subject", subject).Str("body", body).Msg("notification")
	return nil
}

// Mirror delivers through a primary sender and copies every message to
// secondary senders. Only the primary's outcome is reported.
type Mirror struct {
	primary Sender
	mirrors []Sender
	logger  zerolog.Logger
}

func NewMirror(primary Sender, logger *zerolog.Logger, mirrors ...Sender) *Mirror {
	return &Mirror{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.With().Str("component", "notify_mirror").Logger(),
	}
}

func (m *Mirror) Send(ctx context.Context, recipient, subject, body string) error {
	err := m.primary.Send(ctx, recipient, subject, body)
	for _, s := range m.mirrors {
		if mErr := s.Send(ctx, recipient, subject, body); mErr != nil {
			m.logger.Warn().Err(mErr).Str("to", recipient).Msg("mirror delivery failed")
		}
	}
	return err
}

// RateLimited throttles an underlying sender with a token bucket.
type RateLimited struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond sends with the given burst.
func NewRateLimited(next Sender, perSecond float64, burst int) *RateLimited {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Send(ctx context.Context, recipient, subject, body string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Send(ctx, recipient, subject, body)
}
