package document

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	Update(ctx context.Context, d *Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Document, int, error)
	CountByPatient(ctx context.Context, patientID uuid.UUID) (total, terminal, ingested int, err error)
	ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Document, error)
}
