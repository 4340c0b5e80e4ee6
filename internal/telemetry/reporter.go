package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"menlo/internal/models"
)

// Sink accepts snapshots without blocking.
type Sink interface {
	Push(ctx context.Context, snapshot map[string]interface{})
}

// Source reads the state that is reported.
type Source interface {
	Status(ctx context.Context) (models.ResourceStatus, error)
	ListActive(ctx context.Context) ([]models.Booking, error)
}

// StatusReporter periodically pushes the resource status and the active
// booking list.
type StatusReporter struct {
	source   Source
	sink     Sink
	interval time.Duration
	logger   zerolog.Logger
}

func NewStatusReporter(source Source, sink Sink, interval time.Duration, logger *zerolog.Logger) *StatusReporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatusReporter{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger.With().Str("component", "status_reporter").Logger(),
	}
}

// Run reports once immediately and then on every interval until ctx is done.
func (r *StatusReporter) Run(ctx context.Context) {
	r.ReportOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReportOnce(ctx)
		}
	}
}

// ReportOnce pushes the current status. The booking list is pushed only
// when it could be read, so an outage never reports an empty calendar.
func (r *StatusReporter) ReportOnce(ctx context.Context) {
	status, err := r.source.Status(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("status unavailable")
	}
	r.sink.Push(ctx, StatusSnapshot(status))

	active, err := r.source.ListActive(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("bookings unavailable, list not pushed")
		return
	}
	r.sink.Push(ctx, BookingsSnapshot(active))
}

// StatusSnapshot is the payload reporting the power state.
func StatusSnapshot(status models.ResourceStatus) map[string]interface{} {
	return map[string]interface{}{"system_status": string(status)}
}

// BookingsSnapshot is the payload listing active bookings.
func BookingsSnapshot(active []models.Booking) map[string]interface{} {
	list := make([]map[string]string, 0, len(active))
	for _, b := range active {
		list = append(list, map[string]string{
			"name":            b.Name,
			"experiment_type": string(b.Experiment),
			"start_date":      models.DateKey(b.Start),
			"end_date":        models.DateKey(b.End),
		})
	}
	return map[string]interface{}{"bookings": list}
}
