package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows appointment listings.
type ListFilter struct {
	PatientID uuid.UUID
	Status    string
	From      time.Time
	To        time.Time
}

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	CountBetween(ctx context.Context, from, to time.Time) (int, error)
	ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Appointment, error)
}
