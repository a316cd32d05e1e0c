package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an appointment id does not exist.
var ErrNotFound = errors.New("appointment not found")

// Appointment statuses. Completed, cancelled, and no-show are terminal.
const (
	StatusScheduled   = "scheduled"
	StatusConfirmed   = "confirmed"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusNoShow      = "no-show"
	StatusRescheduled = "rescheduled"
)

var ValidStatuses = map[string]bool{
	StatusScheduled:   true,
	StatusConfirmed:   true,
	StatusInProgress:  true,
	StatusCompleted:   true,
	StatusCancelled:   true,
	StatusNoShow:      true,
	StatusRescheduled: true,
}

var TerminalStatuses = map[string]bool{
	StatusCompleted: true,
	StatusCancelled: true,
	StatusNoShow:    true,
}

var ValidKinds = map[string]bool{
	"consultation": true,
	"follow_up":    true,
	"procedure":    true,
	"review":       true,
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	Title           string    `db:"title" json:"title"`
	Kind            string    `db:"kind" json:"kind"`
	Provider        string    `db:"provider" json:"provider"`
	Status          string    `db:"status" json:"status"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Location        string    `db:"location" json:"location"`
	CalendarEventID *string   `db:"calendar_event_id" json:"calendar_event_id,omitempty"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
