package engine

import "menlo/internal/models"

// HasConflict reports whether r overlaps any booking in active. It is the
// only overlap predicate in the package; occupancy is derived from it.
func HasConflict(r models.DateRange, active []models.Booking) bool {
	_, ok := FindConflict(r, active)
	return ok
}

// FindConflict returns the first booking in active that overlaps r.
func FindConflict(r models.DateRange, active []models.Booking) (models.Booking, bool) {
	for _, b := range active {
		if r.Overlaps(b.Range()) {
			return b, true
		}
	}
	return models.Booking{}, false
}
