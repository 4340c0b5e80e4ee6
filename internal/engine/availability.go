package engine

import (
	"fmt"
	"sort"
	"time"

	"menlo/internal/models"
)

// DefaultMaxHorizonDays bounds the next-available scan at roughly ten years.
const DefaultMaxHorizonDays = 3660

// NextAvailableDay returns the first weekday on or after from that no booking
// in active covers. Weekends are never returned. The scan gives up after
// maxDays days so a corrupted end date cannot stall the caller.
func NextAvailableDay(active []models.Booking, from time.Time, maxDays int) (time.Time, error) {
	if maxDays <= 0 {
		maxDays = DefaultMaxHorizonDays
	}
	d := models.DateOf(from)
	for i := 0; i < maxDays; i++ {
		if !models.IsWeekend(d) && !HasConflict(models.SingleDay(d), active) {
			return d, nil
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("%w: scanned %d days from %s", ErrHorizonExceeded, maxDays, models.DateKey(from))
}

// Occupancy maps YYYY-MM-DD to the bookings covering that day.
type Occupancy map[string][]models.Booking

// On returns the bookings covering d.
func (o Occupancy) On(d time.Time) []models.Booking {
	return o[models.DateKey(models.DateOf(d))]
}

// OccupancyByDay lists, for every day in r, the bookings covering it. Days
// without bookings map to an empty slice. Entries are ordered by start date,
// then creation time, then key, so repeated renders are identical.
func OccupancyByDay(active []models.Booking, r models.DateRange) Occupancy {
	sorted := sortedBookings(active)
	occ := make(Occupancy, r.Days())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		covering := make([]models.Booking, 0)
		for _, b := range sorted {
			if HasConflict(models.SingleDay(d), []models.Booking{b}) {
				covering = append(covering, b)
			}
		}
		occ[models.DateKey(d)] = covering
	}
	return occ
}

func sortedBookings(in []models.Booking) []models.Booking {
	out := append([]models.Booking(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Key < b.Key
	})
	return out
}
