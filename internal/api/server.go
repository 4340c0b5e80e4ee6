// Package api exposes the booking engine as a small JSON HTTP API for the
// booking page.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"menlo/internal/engine"
	"menlo/internal/models"
)

// BookingEngine is the engine surface the API renders.
type BookingEngine interface {
	Status(ctx context.Context) (models.ResourceStatus, error)
	ListActive(ctx context.Context) ([]models.Booking, error)
	NextAvailableDay(active []models.Booking, from time.Time) (time.Time, error)
	OccupancyByDay(active []models.Booking, r models.DateRange) engine.Occupancy
	CreateBooking(ctx context.Context, req engine.CreateRequest) (*engine.CreateResult, error)
	Today() time.Time
	Location() *time.Location
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	engine BookingEngine
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(port int, eng BookingEngine, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		engine: eng,
		logger: logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/bookings", s.handleBookings)
	mux.HandleFunc("/api/bookings/export.xlsx", s.handleExport)
	mux.HandleFunc("/api/availability/next", s.handleNextAvailable)
	mux.HandleFunc("/api/calendar", s.handleCalendar)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type errorResponse struct {
	Error       string         `json:"error"`
	Field       string         `json:"field,omitempty"`
	Requested   *dateRangeView `json:"requested,omitempty"`
	Conflicting *dateRangeView `json:"conflicting,omitempty"`
}

type dateRangeView struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

func rangeView(r models.DateRange) *dateRangeView {
	return &dateRangeView{Start: models.DateKey(r.Start), End: models.DateKey(r.End)}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
