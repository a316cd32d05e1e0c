package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	ListTemplates(ctx context.Context) ([]*Template, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	CreateTemplate(ctx context.Context, t *Template) error
	SeedTemplates(ctx context.Context) error

	CreateForm(ctx context.Context, f *Form) error
	GetForm(ctx context.Context, id uuid.UUID) (*Form, error)
	UpdateForm(ctx context.Context, f *Form) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Form, error)
	CountByPatient(ctx context.Context, patientID uuid.UUID) (total, signed int, err error)
	ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Form, error)
}
