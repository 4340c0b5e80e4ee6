package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"menlo/internal/metrics"
	"menlo/internal/models"
)

// Store is the remote key-value collaborator holding bookings and status.
type Store interface {
	FetchStatus(ctx context.Context) (models.ResourceStatus, error)
	FetchBookings(ctx context.Context) ([]models.KeyedRecord, error)
	AppendBooking(ctx context.Context, rec models.Record) (string, error)
}

// Notifier delivers a message to a recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// TelemetrySink receives snapshots on a best-effort basis.
type TelemetrySink interface {
	Push(ctx context.Context, snapshot map[string]interface{})
}

// Locker serializes writers of a resource. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, resource string) (func(), error)
}

// EventPublisher announces booking outcomes to in-process subscribers.
type EventPublisher interface {
	PublishJSON(evType string, payload interface{}) error
}

const (
	EventBookingCreated  = "booking.created"
	EventBookingRejected = "booking.rejected"
)

// Config tunes the engine.
type Config struct {
	// Resource names the lock key of the shared setup.
	Resource string
	// Location is the fixed zone used for "today" and creation timestamps.
	Location *time.Location
	// StoreTimeout bounds every single store call.
	StoreTimeout time.Duration
	// MaxHorizonDays caps the next-available-day scan.
	MaxHorizonDays int
}

// DefaultConfig returns the settings the Menlo setup runs with.
func DefaultConfig() Config {
	return Config{
		Resource:       "menlo",
		Location:       time.FixedZone("UTC+8", 8*60*60),
		StoreTimeout:   5 * time.Second,
		MaxHorizonDays: DefaultMaxHorizonDays,
	}
}

// Engine is the reservation engine for a single shared resource.
type Engine struct {
	cfg       Config
	store     Store
	notifier  Notifier
	telemetry TelemetrySink
	locker    Locker
	events    EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs an engine. A nil notifier disables confirmations.
func New(store Store, notifier Notifier, cfg Config, logger *zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Resource == "" {
		cfg.Resource = def.Resource
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.MaxHorizonDays <= 0 {
		cfg.MaxHorizonDays = def.MaxHorizonDays
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "engine").Str("resource", cfg.Resource).Logger()
	}

	return &Engine{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		locker:   nopLocker{},
		logger:   l,
		now:      time.Now,
	}
}

// UseLocker installs the write serialization point for CreateBooking.
func (e *Engine) UseLocker(l Locker) {
	if l == nil {
		l = nopLocker{}
	}
	e.locker = l
}

// UseTelemetry installs a best-effort telemetry sink.
func (e *Engine) UseTelemetry(t TelemetrySink) {
	e.telemetry = t
}

// UseEvents installs an event publisher.
func (e *Engine) UseEvents(p EventPublisher) {
	e.events = p
}

// UseClock replaces the wall clock, for replaying or testing a fixed day.
func (e *Engine) UseClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Location returns the engine's fixed time zone.
func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// Today is the current calendar date in the engine's zone.
func (e *Engine) Today() time.Time {
	return models.DateOf(e.now().In(e.cfg.Location))
}

// Status reads the resource power state. Any failure reads as OFF and is
// also returned wrapped in ErrUnavailable.
func (e *Engine) Status(ctx context.Context) (models.ResourceStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	status, err := e.store.FetchStatus(ctx)
	metrics.ObserveStoreRequest("fetch_status", err, time.Since(start))
	if err != nil {
		e.logger.Warn().Err(err).Msg("status unavailable, reporting OFF")
		return models.StatusOff, fmt.Errorf("%w: %w", ErrUnavailable, &StoreError{Op: "fetch_status", Err: err})
	}
	return status, nil
}

// ListActive returns bookings ending today or later, ordered by start date.
// When the store cannot be read it returns an empty slice together with an
// error wrapping ErrUnavailable; callers that only render may ignore it, but
// should prefer showing "data unavailable" over "no bookings".
func (e *Engine) ListActive(ctx context.Context) ([]models.Booking, error) {
	active, err := e.fetchActive(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("bookings unavailable, returning empty list")
		return []models.Booking{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return active, nil
}

// NextAvailableDay scans from from (or today when zero) for the first free weekday.
func (e *Engine) NextAvailableDay(active []models.Booking, from time.Time) (time.Time, error) {
	if from.IsZero() {
		from = e.Today()
	}
	return NextAvailableDay(active, from, e.cfg.MaxHorizonDays)
}

// OccupancyByDay is the engine-bound form of the package function.
func (e *Engine) OccupancyByDay(active []models.Booking, r models.DateRange) Occupancy {
	return OccupancyByDay(active, r)
}

// EvaluateReminders is the engine-bound form of the package function.
func (e *Engine) EvaluateReminders(active []models.Booking, today time.Time) []models.Booking {
	return EvaluateReminders(active, today)
}

func (e *Engine) fetchActive(ctx context.Context) ([]models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	records, err := e.store.FetchBookings(ctx)
	metrics.ObserveStoreRequest("fetch_bookings", err, time.Since(start))
	if err != nil {
		return nil, &StoreError{Op: "fetch_bookings", Err: err}
	}

	today := e.Today()
	active := make([]models.Booking, 0, len(records))
	for _, kr := range records {
		b, err := kr.ToBooking(e.cfg.Location)
		if err != nil {
			e.logger.Warn().Err(err).Str("key", kr.Key).Msg("skipping unreadable booking record")
			continue
		}
		if b.IsActive(today) {
			active = append(active, b)
		}
	}
	return sortedBookings(active), nil
}

func (e *Engine) publish(evType string, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishJSON(evType, payload); err != nil {
		e.logger.Debug().Err(err).Str("event", evType).Msg("publish event")
	}
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
