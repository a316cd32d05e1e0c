// Package workflow holds the patient journey model: the status ladder,
// the lifecycle events that move patients along it, and the tasks each
// event fans out. Everything here is pure; the orchestrator package
// applies these rules against storage.
package workflow

import (
	"context"

	"github.com/google/uuid"
)

// Status is a patient's position in the care journey.
type Status string

const (
	StatusIntakeInProgress      Status = "Intake In Progress"
	StatusIntakeDone            Status = "Intake Done"
	StatusDocCollectionProgress Status = "Doc Collection In Progress"
	StatusDocCollectionDone     Status = "Doc Collection Done"
	StatusConsultScheduled      Status = "Consultation Scheduled"
	StatusAwaitingResponse      Status = "Awaiting Response"
	StatusReviewScheduled       Status = "Review Scheduled"
	StatusReviewDone            Status = "Review Done"
	StatusProcedureScheduled    Status = "Procedure Scheduled"
	StatusProcedureDone         Status = "Procedure Done"
	StatusConsultComplete       Status = "Consultation Complete"
)

// ValidStatuses enumerates every status a patient may hold.
var ValidStatuses = map[Status]bool{
	StatusIntakeInProgress:      true,
	StatusIntakeDone:            true,
	StatusDocCollectionProgress: true,
	StatusDocCollectionDone:     true,
	StatusConsultScheduled:      true,
	StatusAwaitingResponse:      true,
	StatusReviewScheduled:       true,
	StatusReviewDone:            true,
	StatusProcedureScheduled:    true,
	StatusProcedureDone:         true,
	StatusConsultComplete:       true,
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventPatientCreated          EventKind = "patient_created"
	EventIntakeCompleted         EventKind = "intake_completed"
	EventFirstDocumentUploaded   EventKind = "first_document_uploaded"
	EventDocsAndConsentsComplete EventKind = "docs_and_consents_complete"
	EventExtractionCompleted     EventKind = "extraction_completed"
	EventExtractionLowConfidence EventKind = "extraction_low_confidence"
	EventAppointmentScheduled    EventKind = "appointment_scheduled"
	EventAppointmentCompleted    EventKind = "appointment_completed"
	EventInsuranceVerified       EventKind = "insurance_verified"
	EventClaimDenied             EventKind = "claim_denied"
)

// Event carries a lifecycle occurrence through the orchestrator. Meta
// holds event-specific detail like document or claim ids.
type Event struct {
	Kind      EventKind
	PatientID uuid.UUID
	Meta      map[string]string
}

// Sink receives lifecycle events. Implemented by the orchestrator;
// domain services depend only on this interface.
type Sink interface {
	Handle(ctx context.Context, ev Event) error
}

// Completion re-evaluates cross-entity rules for a patient. Document and
// consent services call it whenever one of their records reaches a
// terminal state; the docs_and_consents_complete event fires once every
// document has finished ingestion and every consent is signed.
type Completion interface {
	CheckDocsAndConsents(ctx context.Context, patientID uuid.UUID) error
}
