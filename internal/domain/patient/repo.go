package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows patient listings.
type ListFilter struct {
	Status string
	Query  string
	Flag   string
}

// CounterField names a denormalized counter on the patient row.
type CounterField string

const (
	CounterTasks        CounterField = "tasks_count"
	CounterAppointments CounterField = "appointments_count"
	CounterFlagged      CounterField = "flagged_count"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	AdjustCounter(ctx context.Context, id uuid.UUID, field CounterField, delta int) error
	Count(ctx context.Context) (int, error)

	AddNote(ctx context.Context, n *Note) error
	ListNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Note, int, error)
}

// ActivitySource contributes entries to a patient's activity feed.
// Each domain package registers one against the service.
type ActivitySource interface {
	RecentActivity(ctx context.Context, patientID uuid.UUID, since time.Time) ([]Activity, error)
}

// SummarySource contributes chart lines to the AI summary prompt. Each
// domain package registers one, same as the activity feed.
type SummarySource interface {
	SummaryLines(ctx context.Context, patientID uuid.UUID) ([]string, error)
}
