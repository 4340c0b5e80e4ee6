// Package telemetry forwards status and booking snapshots to a ThingsBoard
// device. Delivery is best effort: nothing here ever blocks a caller.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"menlo/internal/metrics"
)

// ThingsBoardOptions configures the sink.
type ThingsBoardOptions struct {
	BaseURL     string
	DeviceToken string
	QueueSize   int
	Timeout     time.Duration
}

// ThingsBoard posts snapshots to the device telemetry endpoint from a single
// worker goroutine. Push enqueues and returns immediately; when the queue is
// full the snapshot is dropped.
type ThingsBoard struct {
	url        string
	httpClient *http.Client
	queue      chan map[string]interface{}
	logger     zerolog.Logger
}

func NewThingsBoard(opts ThingsBoardOptions, logger *zerolog.Logger) *ThingsBoard {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://thingsboard.cloud"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &ThingsBoard{
		url:        fmt.Sprintf("%s/api/v1/%s/telemetry", strings.TrimRight(opts.BaseURL, "/"), opts.DeviceToken),
		httpClient: &http.Client{Timeout: opts.Timeout},
		queue:      make(chan map[string]interface{}, opts.QueueSize),
		logger:     logger.With().Str("component", "telemetry").Logger(),
	}
}

// Push enqueues snapshot for delivery.
func (t *ThingsBoard) Push(_ context.Context, snapshot map[string]interface{}) {
	select {
	case t.queue <- snapshot:
	default:
		metrics.IncTelemetryDropped()
		t.logger.Warn().Msg("telemetry queue full, snapshot dropped")
	}
}

// Run delivers queued snapshots until ctx is done.
func (t *ThingsBoard) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-t.queue:
			if err := t.send(ctx, snap); err != nil {
				metrics.IncTelemetryDropped()
				t.logger.Warn().Err(err).Msg("telemetry push failed")
			}
		}
	}
}

// Pending reports the number of queued snapshots.
func (t *ThingsBoard) Pending() int {
	return len(t.queue)
}

func (t *ThingsBoard) send(ctx context.Context, snapshot map[string]interface{}) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("thingsboard: http %d", resp.StatusCode)
	}
	return nil
}
