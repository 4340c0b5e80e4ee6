package engine

import (
	"time"

	"menlo/internal/models"
)

// Month describes a calendar page: the month itself and the Sunday-first
// grid of whole weeks that contains it.
type Month struct {
	Year  int
	Month time.Month
	Grid  models.DateRange
}

// MonthGrid returns the calendar page offset months away from today's month.
// The offset is view state; it is passed in rather than kept here.
func MonthGrid(today time.Time, offset int) Month {
	first := time.Date(today.Year(), today.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))

	return Month{
		Year:  first.Year(),
		Month: first.Month(),
		Grid:  models.NewDateRange(start, end),
	}
}
