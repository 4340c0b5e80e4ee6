package engine

import (
	"fmt"
	"time"

	"menlo/internal/models"
)

// EvaluateReminders returns the bookings starting the day after today.
// It keeps no record of what was already sent; callers that poll more than
// once a day must de-duplicate (see reminders.Ledger).
func EvaluateReminders(active []models.Booking, today time.Time) []models.Booking {
	tomorrow := models.DateOf(today).AddDate(0, 0, 1)
	due := make([]models.Booking, 0)
	for _, b := range active {
		if models.DateOf(b.Start).Equal(tomorrow) {
			due = append(due, b)
		}
	}
	return due
}

// Message is a notification subject and plain-text body.
type Message struct {
	Subject string
	Body    string
}

// ConfirmationMessage is sent once a booking has been stored.
func ConfirmationMessage(b models.Booking) Message {
	return Message{
		Subject: "Menlo Booking Confirmation",
		Body: fmt.Sprintf("Hello %s,\n\nYour booking for %s from %s to %s has been confirmed.\n\nThank you!",
			b.Name, b.Experiment, models.DateKey(b.Start), models.DateKey(b.End)),
	}
}

// ReminderMessage is sent the day before a booking starts.
func ReminderMessage(b models.Booking) Message {
	return Message{
		Subject: "Menlo Booking Reminder",
		Body: fmt.Sprintf("Hello %s,\n\nThis is a reminder that your booking for %s is tomorrow (%s).",
			b.Name, b.Experiment, models.DateKey(b.Start)),
	}
}
