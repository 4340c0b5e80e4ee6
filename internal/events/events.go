// Package events is an in-process publish/subscribe bus for booking events.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"menlo/internal/metrics"
	"menlo/internal/models"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events. Handlers run synchronously
// in subscription order; a failing handler does not stop the others.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns the number of
// handlers that failed.
func (b *EventBus) Publish(event Event) int {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	failed := 0
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			failed++
			b.logger.Warn().Err(err).Str("event", event.Type).Int64("id", event.ID).Msg("event handler failed")
		}
	}
	return failed
}

// PublishJSON marshals payload and publishes it under eventType.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if failed := b.Publish(Event{Type: eventType, Payload: data}); failed > 0 {
		return fmt.Errorf("%s: %d handler(s) failed", eventType, failed)
	}
	return nil
}

// SubscribeMetrics counts every event of the given types and records the
// length of created bookings.
func (b *EventBus) SubscribeMetrics(createdType string, types ...string) {
	for _, t := range append([]string{createdType}, types...) {
		t := t
		b.Subscribe(t, func(ev Event) error {
			metrics.IncEvent(t)
			return nil
		})
	}
	b.Subscribe(createdType, func(ev Event) error {
		var bk models.Booking
		if err := ev.Decode(&bk); err != nil {
			return err
		}
		metrics.ObserveBookingDays(bk.Range().Days())
		return nil
	})
}
