package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const (
	// DateLayout is the wire and map-key form of a calendar date.
	DateLayout = "2006-01-02"
	// BookedAtLayout is the wire form of the creation timestamp.
	BookedAtLayout = "2006-01-02, 15:04:05"
)

// ExperimentType is the kind of measurement a slot is reserved for.
type ExperimentType string

const (
	ExperimentCoPolarization    ExperimentType = "Co-Polarization"
	ExperimentCrossPolarization ExperimentType = "Cross-Polarization"
)

// Valid reports whether e is one of the recognised experiment types.
func (e ExperimentType) Valid() bool {
	switch e {
	case ExperimentCoPolarization, ExperimentCrossPolarization:
		return true
	default:
		return false
	}
}

// ResourceStatus is the power state of the shared setup.
type ResourceStatus string

const (
	StatusOn  ResourceStatus = "ON"
	StatusOff ResourceStatus = "OFF"
)

// ParseStatus maps any value other than "ON" to StatusOff.
func ParseStatus(s string) ResourceStatus {
	if s == string(StatusOn) {
		return StatusOn
	}
	return StatusOff
}

// DateRange is a closed interval of calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalizes both ends to midnight UTC.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: DateOf(start), End: DateOf(end)}
}

// SingleDay returns the range covering only d.
func SingleDay(d time.Time) DateRange {
	return NewDateRange(d, d)
}

// Overlaps reports whether r and other share at least one calendar day.
// Both ends are inclusive.
func (r DateRange) Overlaps(other DateRange) bool {
	return !r.Start.After(other.End) && !r.End.Before(other.Start)
}

// Contains reports whether d falls within r.
func (r DateRange) Contains(d time.Time) bool {
	d = DateOf(d)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days returns the number of calendar days covered by r.
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// Booking is a reservation of the setup for an inclusive date range.
type Booking struct {
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Experiment ExperimentType `json:"experiment_type"`
	Start      time.Time      `json:"start_date"`
	End        time.Time      `json:"end_date"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Range returns the booking's closed date interval.
func (b Booking) Range() DateRange {
	return NewDateRange(b.Start, b.End)
}

// IsActive reports whether the booking has not yet ended as of today.
func (b Booking) IsActive(today time.Time) bool {
	return !DateOf(b.End).Before(DateOf(today))
}

// DaysLeft is the number of days until the booking starts, never negative.
func (b Booking) DaysLeft(today time.Time) int {
	diff := int(DateOf(b.Start).Sub(DateOf(today)).Hours() / 24)
	if diff < 0 {
		return 0
	}
	return diff
}

// DisplayColor derives a stable translucent color from the requester name
// so that the same person renders the same way on every calendar.
func (b Booking) DisplayColor() string {
	sum := md5.Sum([]byte(b.Name))
	h := hex.EncodeToString(sum[:])
	r, _ := strconv.ParseUint(h[0:2], 16, 8)
	g, _ := strconv.ParseUint(h[2:4], 16, 8)
	bl, _ := strconv.ParseUint(h[4:6], 16, 8)
	return fmt.Sprintf("rgba(%d,%d,%d,0.35)", r, g, bl)
}

// DateOf strips the time component, keeping the wall-clock calendar date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// DateKey formats d as YYYY-MM-DD.
func DateKey(d time.Time) string {
	return d.Format(DateLayout)
}

// IsWeekend reports whether d is a Saturday or Sunday.
func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
