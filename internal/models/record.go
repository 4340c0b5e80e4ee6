package models

import (
	"fmt"
	"strings"
	"time"
)

// Record is the persisted shape of a booking in the remote store.
// Field names match the keys written by the original booking form.
type Record struct {
	Name       string `json:"Name"`
	Email      string `json:"Email"`
	Experiment string `json:"Experiment Type"`
	StartDate  string `json:"Start Date"`
	EndDate    string `json:"End Date"`
	BookedAt   string `json:"Date and Time Booked,omitempty"`
}

// KeyedRecord pairs a stored record with the key the store assigned to it.
type KeyedRecord struct {
	Key    string
	Record Record
}

// NewRecord renders b in wire form. The creation timestamp is formatted in loc.
func NewRecord(b Booking, loc *time.Location) Record {
	rec := Record{
		Name:       b.Name,
		Email:      b.Email,
		Experiment: string(b.Experiment),
		StartDate:  DateKey(b.Start),
		EndDate:    DateKey(b.End),
	}
	if !b.CreatedAt.IsZero() {
		rec.BookedAt = b.CreatedAt.In(loc).Format(BookedAtLayout)
	}
	return rec
}

// ToBooking parses a stored record. Records whose dates cannot be parsed are
// rejected so they never take part in conflict checks.
func (kr KeyedRecord) ToBooking(loc *time.Location) (Booking, error) {
	rec := kr.Record
	start, err := parseLooseDate(rec.StartDate)
	if err != nil {
		return Booking{}, fmt.Errorf("record %s: start date: %w", kr.Key, err)
	}
	end, err := parseLooseDate(rec.EndDate)
	if err != nil {
		return Booking{}, fmt.Errorf("record %s: end date: %w", kr.Key, err)
	}

	b := Booking{
		Key:        kr.Key,
		Name:       rec.Name,
		Email:      rec.Email,
		Experiment: ExperimentType(rec.Experiment),
		Start:      start,
		End:        end,
	}
	if rec.BookedAt != "" {
		if ts, err := time.ParseInLocation(BookedAtLayout, rec.BookedAt, loc); err == nil {
			b.CreatedAt = ts
		}
	}
	return b, nil
}

// parseLooseDate accepts YYYY-MM-DD and tolerates a trailing time part,
// which older form versions wrote.
func parseLooseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	return ParseDate(s)
}
