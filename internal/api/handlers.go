package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"menlo/internal/engine"
	"menlo/internal/metrics"
	"menlo/internal/models"
	"menlo/internal/report"
)

// MaxMonthOffset bounds calendar paging in either direction.
const MaxMonthOffset = 120

// MaxBodyBytes caps the booking request body.
const MaxBodyBytes = 64 << 10

// BookingView is one row of the bookings table.
type BookingView struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Experiment string `json:"experiment_type"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	BookedAt   string `json:"booked_at,omitempty"`
	DaysLeft   int    `json:"days_left"`
	Color      string `json:"color"`
}

// BookingsResponse lists active bookings. Available is false when the store
// could not be read; the list is then empty and must not be shown as "no
// bookings".
type BookingsResponse struct {
	Available bool          `json:"available"`
	Bookings  []BookingView `json:"bookings"`
}

// CreateBookingRequest is the body of POST /api/bookings.
type CreateBookingRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Experiment string `json:"experiment_type"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

// CreateBookingResponse reports a stored booking. Warning is set when the
// confirmation e-mail could not be sent.
type CreateBookingResponse struct {
	Booking BookingView `json:"booking"`
	Warning string      `json:"warning,omitempty"`
}

// CalendarDay is one cell of the calendar grid.
type CalendarDay struct {
	Date      string        `json:"date"`
	InMonth   bool          `json:"in_month"`
	Weekend   bool          `json:"weekend"`
	Today     bool          `json:"today"`
	Available bool          `json:"available"`
	Bookings  []BookingView `json:"bookings"`
}

// CalendarResponse is a Sunday-first month page.
type CalendarResponse struct {
	Year      int           `json:"year"`
	Month     string        `json:"month"`
	Offset    int           `json:"offset"`
	Available bool          `json:"available"`
	Days      []CalendarDay `json:"days"`
}

func (s *HTTPServer) view(b models.Booking, today time.Time) BookingView {
	v := BookingView{
		Key:        b.Key,
		Name:       b.Name,
		Email:      b.Email,
		Experiment: string(b.Experiment),
		StartDate:  models.DateKey(b.Start),
		EndDate:    models.DateKey(b.End),
		DaysLeft:   b.DaysLeft(today),
		Color:      b.DisplayColor(),
	}
	if !b.CreatedAt.IsZero() {
		v.BookedAt = b.CreatedAt.In(s.engine.Location()).Format(models.BookedAtLayout)
	}
	return v
}

// GET /api/status
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	status, err := s.engine.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    string(status),
		"online":    status == models.StatusOn,
		"available": err == nil,
	})
}

// GET /api/bookings lists active bookings; POST /api/bookings creates one.
func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBookings(w, r)
	case http.MethodPost:
		s.handleCreateBooking(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or POST")
	}
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list_bookings")

	active, err := s.engine.ListActive(r.Context())
	today := s.engine.Today()
	resp := BookingsResponse{Available: err == nil, Bookings: make([]BookingView, 0, len(active))}
	for _, b := range active {
		resp.Bookings = append(resp.Bookings, s.view(b, today))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")

	var body CreateBookingRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := engine.CreateRequest{
		Name:       body.Name,
		Email:      body.Email,
		Experiment: models.ExperimentType(body.Experiment),
	}
	var err error
	if body.StartDate != "" {
		if req.Start, err = models.ParseDate(body.StartDate); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start_date format; expected YYYY-MM-DD", Field: "start_date"})
			return
		}
	}
	if body.EndDate != "" {
		if req.End, err = models.ParseDate(body.EndDate); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid end_date format; expected YYYY-MM-DD", Field: "end_date"})
			return
		}
	}

	res, err := s.engine.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeCreateError(w, err)
		return
	}

	resp := CreateBookingResponse{Booking: s.view(res.Booking, s.engine.Today())}
	if res.NotifyErr != nil {
		resp.Warning = "Booking saved, but sending email failed."
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *HTTPServer) writeCreateError(w http.ResponseWriter, err error) {
	var vErr *engine.ValidationError
	var cErr *engine.ConflictError
	var sErr *engine.StoreError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Message, Field: vErr.Field})
	case errors.As(err, &cErr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:       "Selected dates are already booked.",
			Requested:   rangeView(cErr.Requested),
			Conflicting: rangeView(cErr.Existing.Range()),
		})
	case errors.As(err, &sErr) && sErr.Timeout():
		writeError(w, http.StatusGatewayTimeout, "booking store timed out; please retry")
	default:
		s.logger.Error().Err(err).Msg("create booking failed")
		writeError(w, http.StatusServiceUnavailable, "Failed to save booking. Please retry later.")
	}
}

// GET /api/availability/next?from=YYYY-MM-DD
func (s *HTTPServer) handleNextAvailable(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("next_available")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	var from time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from format; expected YYYY-MM-DD")
			return
		}
		from = d
	}

	active, err := s.engine.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "booking data unavailable")
		return
	}
	day, err := s.engine.NextAvailableDay(active, from)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"date": models.DateKey(day), "weekday": day.Weekday().String()})
}

// GET /api/calendar?month_offset=N
func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("calendar")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	offset := 0
	if v := r.URL.Query().Get("month_offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < -MaxMonthOffset || n > MaxMonthOffset {
			writeError(w, http.StatusBadRequest, "month_offset must be an integer between -120 and 120")
			return
		}
		offset = n
	}

	today := s.engine.Today()
	page := engine.MonthGrid(today, offset)
	active, err := s.engine.ListActive(r.Context())
	occ := s.engine.OccupancyByDay(active, page.Grid)

	resp := CalendarResponse{
		Year:      page.Year,
		Month:     page.Month.String(),
		Offset:    offset,
		Available: err == nil,
		Days:      make([]CalendarDay, 0, page.Grid.Days()),
	}
	for d := page.Grid.Start; !d.After(page.Grid.End); d = d.AddDate(0, 0, 1) {
		covering := occ.On(d)
		day := CalendarDay{
			Date:      models.DateKey(d),
			InMonth:   d.Month() == page.Month,
			Weekend:   models.IsWeekend(d),
			Today:     d.Equal(today),
			Available: err == nil && len(covering) == 0 && !models.IsWeekend(d),
			Bookings:  make([]BookingView, 0, len(covering)),
		}
		for _, b := range covering {
			day.Bookings = append(day.Bookings, s.view(b, today))
		}
		resp.Days = append(resp.Days, day)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/bookings/export.xlsx
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	active, err := s.engine.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "booking data unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="menlo_bookings.xlsx"`)
	if err := report.ExportBookings(w, active, s.engine.Today(), s.engine.Location()); err != nil {
		s.logger.Error().Err(err).Msg("export failed")
	}
}
