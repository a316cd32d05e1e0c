package document

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("document not found")

// Ingest statuses. A document starts at uploaded, moves to ingesting
// while extraction runs, and lands on ingested or not_ingested.
const (
	StatusUploaded    = "uploaded"
	StatusIngesting   = "ingesting"
	StatusIngested    = "ingested"
	StatusNotIngested = "not_ingested"
)

// ConfidenceThreshold is the minimum extraction confidence for a
// document to count as ingested without human review.
const ConfidenceThreshold = 0.9

// TerminalStatuses are the states ingestion can finish in.
var TerminalStatuses = map[string]bool{
	StatusIngested:    true,
	StatusNotIngested: true,
}

// Document maps to the documents table.
type Document struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	PatientID   uuid.UUID              `db:"patient_id" json:"patient_id"`
	Name        string                 `db:"name" json:"name"`
	Kind        string                 `db:"kind" json:"kind"`
	ContentType string                 `db:"content_type" json:"content_type"`
	SizeBytes   int64                  `db:"size_bytes" json:"size_bytes"`
	StoragePath string                 `db:"storage_path" json:"-"`
	Status      string                 `db:"status" json:"status"`
	Confidence  *float64               `db:"confidence" json:"confidence,omitempty"`
	Extracted   map[string]interface{} `db:"extracted" json:"extracted,omitempty"`
	UploadedAt  time.Time              `db:"uploaded_at" json:"uploaded_at"`
	IngestedAt  *time.Time             `db:"ingested_at" json:"ingested_at,omitempty"`
}

// ValidKinds are the document categories the intake flow accepts.
var ValidKinds = map[string]bool{
	"medical_history": true,
	"lab_results":     true,
	"imaging":         true,
	"referral":        true,
	"insurance_card":  true,
	"other":           true,
}
