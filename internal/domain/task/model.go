package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("task not found")

// Task statuses. Done and cancelled are terminal; a terminal task no
// longer counts toward the patient's open-task counter.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
)

var ValidStatuses = map[string]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusDone:       true,
	StatusCancelled:  true,
}

var TerminalStatuses = map[string]bool{
	StatusDone:      true,
	StatusCancelled: true,
}

var ValidPriorities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"urgent": true,
}

// Task maps to the tasks table. PatientName is denormalized so the work
// queue renders without a join.
type Task struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	DisplayID   string     `db:"display_id" json:"display_id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName string     `db:"patient_name" json:"patient_name"`
	Kind        string     `db:"kind" json:"kind"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Status      string     `db:"status" json:"status"`
	Priority    string     `db:"priority" json:"priority"`
	AssignedTo  string     `db:"assigned_to" json:"assigned_to"`
	AgentType   string     `db:"agent_type" json:"agent_type"`
	DedupeKey   *string    `db:"dedupe_key" json:"-"`
	DueAt       *time.Time `db:"due_at" json:"due_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Comment is a progress note on a task.
type Comment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TaskID    uuid.UUID `db:"task_id" json:"task_id"`
	Author    string    `db:"author" json:"author"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FormatDisplayID renders a task sequence number like T00042.
func FormatDisplayID(seq int64) string {
	return fmt.Sprintf("T%05d", seq)
}
