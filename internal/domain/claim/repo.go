package claim

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, eventAt time.Time) error
	List(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Claim, int, error)
	CountByStatus(ctx context.Context, statuses ...string) (int, error)

	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, claimID uuid.UUID) ([]*Event, error)
}
