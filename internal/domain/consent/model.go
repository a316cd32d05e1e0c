package consent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a consent form id does not exist.
var ErrNotFound = errors.New("consent form not found")

// Consent form statuses. Forms move forward only: a signed form never
// reopens.
const (
	StatusToDo       = "to_do"
	StatusSent       = "sent"
	StatusInProgress = "in_progress"
	StatusSigned     = "signed"
	StatusDeclined   = "declined"
)

// nextStatuses describes the allowed forward moves.
var nextStatuses = map[string][]string{
	StatusToDo:       {StatusSent},
	StatusSent:       {StatusInProgress, StatusSigned, StatusDeclined},
	StatusInProgress: {StatusSigned, StatusDeclined},
}

// CanTransition reports whether a form may move from one status to
// another.
func CanTransition(from, to string) bool {
	for _, s := range nextStatuses[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Template is a reusable consent form definition.
type Template struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Required    bool      `db:"required" json:"required"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Form is one consent instance sent to a patient.
type Form struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	TemplateID uuid.UUID  `db:"template_id" json:"template_id"`
	Name       string     `db:"name" json:"name"`
	Status     string     `db:"status" json:"status"`
	EnvelopeID *string    `db:"envelope_id" json:"envelope_id,omitempty"`
	SentAt     *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	SignedAt   *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// DefaultTemplates are seeded into every new tenant schema.
var DefaultTemplates = []Template{
	{Name: "Insurance Information Release", Description: "Authorizes release of insurance details to the clinic.", Required: true},
	{Name: "Medical Records Request", Description: "Authorizes the clinic to request prior medical records.", Required: true},
	{Name: "Treatment Consent", Description: "Consent to the proposed course of treatment.", Required: true},
	{Name: "HIPAA Privacy Notice", Description: "Acknowledgement of the HIPAA privacy practices notice.", Required: true},
}
