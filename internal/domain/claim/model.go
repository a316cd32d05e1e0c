package claim

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a claim id does not exist.
var ErrNotFound = errors.New("claim not found")

// Claim statuses, in rough lifecycle order. Every status change appends
// a claim event; the trail is never rewritten.
const (
	StatusPending              = "pending"
	StatusSubmitted            = "submitted"
	StatusReceived             = "received"
	StatusUnderReview          = "under_review"
	StatusApproved             = "approved"
	StatusDenied               = "denied"
	StatusSettlementInProgress = "settlement_in_progress"
	StatusSettlementDone       = "settlement_done"
)

var ValidStatuses = map[string]bool{
	StatusPending:              true,
	StatusSubmitted:            true,
	StatusReceived:             true,
	StatusUnderReview:          true,
	StatusApproved:             true,
	StatusDenied:               true,
	StatusSettlementInProgress: true,
	StatusSettlementDone:       true,
}

// Claim maps to the claims table. Amounts are stored in cents.
// LastEventAt tracks the newest history entry and drives list ordering.
type Claim struct {
	ID            uuid.UUID `db:"id" json:"id"`
	DisplayID     string    `db:"display_id" json:"display_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	Provider      string    `db:"provider" json:"provider"`
	AmountCents   int64     `db:"amount_cents" json:"amount_cents"`
	AmountDisplay string    `db:"-" json:"amount_display"`
	Status        string    `db:"status" json:"status"`
	ProcedureCode *string   `db:"procedure_code" json:"procedure_code,omitempty"`
	DiagnosisCode *string   `db:"diagnosis_code" json:"diagnosis_code,omitempty"`
	ServiceDate   *string   `db:"service_date" json:"service_date,omitempty"`
	SubmittedDate string    `db:"submitted_date" json:"submitted_date"`
	Description   *string   `db:"description" json:"description,omitempty"`
	LastEventAt   time.Time `db:"last_event_at" json:"last_event_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Event is one entry in a claim's append-only history.
type Event struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClaimID   uuid.UUID `db:"claim_id" json:"claim_id"`
	Status    string    `db:"status" json:"status"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FormatAmount renders cents as a dollar string.
func FormatAmount(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

// FormatDisplayID renders a claim sequence number like C00042.
func FormatDisplayID(seq int64) string {
	return fmt.Sprintf("C%05d", seq)
}
