// Package google mirrors created bookings into a Google Sheets spreadsheet.
package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"menlo/internal/events"
	"menlo/internal/models"
)

var header = []interface{}{"Key", "Name", "Email", "Experiment Type", "Start Date", "End Date", "Date and Time Booked"}

// SheetsConfig configures the mirror.
type SheetsConfig struct {
	CredentialsFile string
	SpreadsheetID   string
	// SheetName is the tab rows are appended to.
	SheetName string
	Location  *time.Location
	Timeout   time.Duration
	// QueueSize bounds bookings waiting to be appended.
	QueueSize int
}

// SheetsService appends one row per created booking. The spreadsheet is a
// read-only copy for lab staff; the booking store stays authoritative.
// Subscribed events are queued and appended by Run.
type SheetsService struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	timeout       time.Duration
	queue         chan models.Booking
	logger        zerolog.Logger
}

// NewSheetsService connects with the service-account credentials file.
// Extra client options are applied after the credentials.
func NewSheetsService(ctx context.Context, cfg SheetsConfig, logger *zerolog.Logger, opts ...option.ClientOption) (*SheetsService, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Bookings"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	srv, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return &SheetsService{
		values:        srv.Spreadsheets.Values,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		loc:           cfg.Location,
		timeout:       cfg.Timeout,
		queue:         make(chan models.Booking, cfg.QueueSize),
		logger:        logger.With().Str("component", "sheets").Logger(),
	}, nil
}

// EnsureHeader writes the header row when the first row is empty.
func (s *SheetsService) EnsureHeader(ctx context.Context) error {
	rng := s.sheetName + "!A1:G1"
	resp, err := s.values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	_, err = s.values.Update(s.spreadsheetID, rng, &sheets.ValueRange{Values: [][]interface{}{header}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// AppendBooking adds b as a new row.
func (s *SheetsService) AppendBooking(ctx context.Context, b models.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vr := &sheets.ValueRange{Values: [][]interface{}{bookingRowValues(b, s.loc)}}
	_, err := s.values.Append(s.spreadsheetID, s.sheetName+"!A:G", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append booking %s: %w", b.Key, err)
	}
	s.logger.Debug().Str("key", b.Key).Msg("booking mirrored to sheet")
	return nil
}

// Subscribe queues every booking.created event for Run to append.
func (s *SheetsService) Subscribe(bus *events.EventBus, createdType string) {
	bus.Subscribe(createdType, func(ev events.Event) error {
		var b models.Booking
		if err := ev.Decode(&b); err != nil {
			return err
		}
		return s.Enqueue(b)
	})
}

// Enqueue schedules b for appending without waiting on the Sheets API.
func (s *SheetsService) Enqueue(b models.Booking) error {
	select {
	case s.queue <- b:
		return nil
	default:
		return fmt.Errorf("sheets queue full, booking %s not mirrored", b.Key)
	}
}

// Run appends queued bookings until ctx is done.
func (s *SheetsService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(s.queue); n > 0 {
				s.logger.Warn().Int("pending", n).Msg("sheets mirror stopped with unsent rows")
			}
			return
		case b := <-s.queue:
			if err := s.AppendBooking(ctx, b); err != nil {
				s.logger.Warn().Err(err).Msg("sheets mirror append failed")
			}
		}
	}
}

// Pending reports the number of queued bookings.
func (s *SheetsService) Pending() int {
	return len(s.queue)
}

func bookingRowValues(b models.Booking, loc *time.Location) []interface{} {
	booked := ""
	if !b.CreatedAt.IsZero() {
		booked = b.CreatedAt.In(loc).Format(models.BookedAtLayout)
	}
	return []interface{}{
		b.Key,
		strings.TrimSpace(b.Name),
		b.Email,
		string(b.Experiment),
		models.DateKey(b.Start),
		models.DateKey(b.End),
		booked,
	}
}
