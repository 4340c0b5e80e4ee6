package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"menlo/internal/metrics"
	"menlo/internal/models"
)

// CreateRequest is a booking submission from the view.
type CreateRequest struct {
	Name       string
	Email      string
	Experiment models.ExperimentType
	Start      time.Time
	End        time.Time
}

// CreateResult is a committed booking. NotifyErr is set when the confirmation
// could not be delivered; the booking stands regardless.
type CreateResult struct {
	Booking   models.Booking
	NotifyErr error
}

// CreateBooking validates req, re-reads the active set under the configured
// lock, rejects overlaps and appends the booking to the store.
//
// Without a Locker installed the check and the write are not atomic: two
// concurrent callers may both pass the check and both write.
func (e *Engine) CreateBooking(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	requestID := uuid.NewString()
	log := e.logger.With().Str("request_id", requestID).Logger()

	r, err := e.validate(req)
	if err != nil {
		metrics.IncBookingOutcome("invalid")
		log.Info().Err(err).Msg("booking rejected")
		return nil, err
	}

	b, err := e.commit(ctx, req, r)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			metrics.IncBookingOutcome("conflict")
			e.publish(EventBookingRejected, conflict.Requested)
			log.Info().Str("requested", r.String()).Str("existing", conflict.Existing.Key).Msg("booking conflicts")
		} else {
			metrics.IncBookingOutcome("store_error")
			log.Error().Err(err).Str("requested", r.String()).Msg("booking not stored")
		}
		return nil, err
	}

	metrics.IncBookingOutcome("created")
	log.Info().Str("key", b.Key).Str("range", r.String()).Str("experiment", string(b.Experiment)).Msg("booking created")

	res := &CreateResult{Booking: b}
	if e.notifier != nil {
		msg := ConfirmationMessage(b)
		if err := e.notifier.Send(ctx, b.Email, msg.Subject, msg.Body); err != nil {
			res.NotifyErr = &NotificationError{Recipient: b.Email, Err: err}
			metrics.IncNotification("confirmation", "failed")
			log.Warn().Err(err).Str("key", b.Key).Msg("booking saved, confirmation not sent")
		} else {
			metrics.IncNotification("confirmation", "sent")
		}
	}

	if e.telemetry != nil {
		e.telemetry.Push(ctx, BookingSnapshot(b))
	}
	e.publish(EventBookingCreated, b)

	return res, nil
}

func (e *Engine) validate(req CreateRequest) (models.DateRange, error) {
	if strings.TrimSpace(req.Name) == "" {
		return models.DateRange{}, validationError("name", "name is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		return models.DateRange{}, validationError("email", "email is required")
	}
	if !req.Experiment.Valid() {
		return models.DateRange{}, validationError("experiment_type", "unknown experiment type "+string(req.Experiment))
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return models.DateRange{}, validationError("date_range", "start and end dates are required")
	}
	r := models.NewDateRange(req.Start, req.End)
	if r.Start.After(r.End) {
		return models.DateRange{}, validationError("date_range", "end date must be the same as or after start date")
	}
	if r.Start.Before(e.Today()) {
		return models.DateRange{}, validationError("start_date", "start date is in the past")
	}
	return r, nil
}

// commit holds the resource lock across the fresh read, the overlap check
// and the append.
func (e *Engine) commit(ctx context.Context, req CreateRequest, r models.DateRange) (models.Booking, error) {
	unlock, err := e.locker.Lock(ctx, e.cfg.Resource)
	if err != nil {
		return models.Booking{}, &StoreError{Op: "lock", Err: err}
	}
	defer unlock()

	active, err := e.fetchActive(ctx)
	if err != nil {
		return models.Booking{}, err
	}
	if existing, ok := FindConflict(r, active); ok {
		return models.Booking{}, &ConflictError{Requested: r, Existing: existing}
	}

	b := models.Booking{
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Experiment: req.Experiment,
		Start:      r.Start,
		End:        r.End,
		CreatedAt:  e.now().In(e.cfg.Location).Truncate(time.Second),
	}

	wctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	key, err := e.store.AppendBooking(wctx, models.NewRecord(b, e.cfg.Location))
	metrics.ObserveStoreRequest("append_booking", err, time.Since(start))
	if err != nil {
		return models.Booking{}, &StoreError{Op: "append_booking", Err: err}
	}
	b.Key = key
	return b, nil
}

// BookingSnapshot is the telemetry payload announcing a new booking.
func BookingSnapshot(b models.Booking) map[string]interface{} {
	return map[string]interface{}{
		"new_booking":     true,
		"start_date":      models.DateKey(b.Start),
		"end_date":        models.DateKey(b.End),
		"experiment_type": string(b.Experiment),
	}
}
