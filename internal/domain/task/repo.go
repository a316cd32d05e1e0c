package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows task listings.
type ListFilter struct {
	PatientID  uuid.UUID
	Status     string
	Priority   string
	Kind       string
	AssignedTo string
	AgentType  string
}

type Repository interface {
	// Create inserts the task. The bool is false when an identical
	// emission (same dedupe key) already has an active task.
	Create(ctx context.Context, t *Task) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Task, int, error)
	CountOpen(ctx context.Context) (int, error)
	ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Task, error)

	AddComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, taskID uuid.UUID) ([]*Comment, error)
}
