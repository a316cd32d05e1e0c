package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/patient"
	"github.com/backlinemd/backlinemd/internal/domain/workflow"
	"github.com/backlinemd/backlinemd/internal/platform/db"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

// PatientCounters is the slice of the patient repository used to keep
// the open-task counter in step. Satisfied by patient.Repository.
type PatientCounters interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	AdjustCounter(ctx context.Context, id uuid.UUID, field patient.CounterField, delta int) error
}

type Service struct {
	repo      Repository
	patients  PatientCounters
	pool      *pgxpool.Pool
	sink      workflow.Sink
	publisher websocket.Publisher
	logger    zerolog.Logger
}

func NewService(repo Repository, patients PatientCounters, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, pool: pool, logger: logger}
}

func (s *Service) SetSink(sink workflow.Sink)         { s.sink = sink }
func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// CreateTask inserts a task and bumps the patient's open-task counter in
// the same transaction. A duplicate emission (matching active dedupe
// key) returns false without touching the counter.
func (s *Service) CreateTask(ctx context.Context, t *Task) (bool, error) {
	if t.PatientID == uuid.Nil {
		return false, fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return false, fmt.Errorf("title is required")
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if !ValidPriorities[t.Priority] {
		return false, fmt.Errorf("invalid priority: %s", t.Priority)
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if !ValidStatuses[t.Status] {
		return false, fmt.Errorf("invalid status: %s", t.Status)
	}

	if t.PatientName == "" {
		p, err := s.patients.GetByID(ctx, t.PatientID)
		if err != nil {
			return false, fmt.Errorf("patient not found")
		}
		t.PatientName = p.FullName()
	}

	var created bool
	err := s.inTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Create(ctx, t)
		if err != nil {
			return err
		}
		created = ok
		if !ok {
			return nil
		}
		return s.patients.AdjustCounter(ctx, t.PatientID, patient.CounterTasks, 1)
	})
	if err != nil {
		return false, err
	}
	if created {
		s.publish(ctx, websocket.OpInsert, t)
	}
	return created, nil
}

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, f ListFilter, limit, offset int) ([]*Task, int, error) {
	if f.Status != "" && !ValidStatuses[f.Status] {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	if f.Priority != "" && !ValidPriorities[f.Priority] {
		return nil, 0, fmt.Errorf("invalid priority: %s", f.Priority)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// SetStatus moves a task through its lifecycle. Reaching a terminal
// status releases the patient's open-task counter; leaving one is not
// allowed.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) (*Task, error) {
	if !ValidStatuses[status] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	if TerminalStatuses[t.Status] {
		return nil, fmt.Errorf("task is already %s", t.Status)
	}

	t.Status = status
	if status == StatusDone {
		now := time.Now()
		t.CompletedAt = &now
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		if TerminalStatuses[status] {
			return s.patients.AdjustCounter(ctx, t.PatientID, patient.CounterTasks, -1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.OpUpdate, t)

	if status == StatusDone && t.Kind == workflow.KindInsuranceVerification && s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      workflow.EventInsuranceVerified,
			PatientID: t.PatientID,
			Meta:      map[string]string{"task_id": t.ID.String()},
		}); err != nil {
			s.logger.Error().Err(err).Str("task_id", t.ID.String()).
				Msg("insurance_verified event failed")
		}
	}
	return t, nil
}

func (s *Service) UpdateTask(ctx context.Context, t *Task) error {
	current, err := s.repo.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	if t.Priority != "" && !ValidPriorities[t.Priority] {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	// Status moves go through SetStatus so the counter bookkeeping holds.
	t.Status = current.Status
	t.PatientID = current.PatientID
	t.PatientName = current.PatientName
	t.CompletedAt = current.CompletedAt
	if err := s.repo.Update(ctx, t); err != nil {
		return err
	}
	s.publish(ctx, websocket.OpUpdate, t)
	return nil
}

// DeleteTask removes a task. An active task releases the counter on its
// way out.
func (s *Service) DeleteTask(ctx context.Context, id uuid.UUID) error {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		if !TerminalStatuses[t.Status] {
			return s.patients.AdjustCounter(ctx, t.PatientID, patient.CounterTasks, -1)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, websocket.OpDelete, map[string]string{"id": id.String()})
	return nil
}

func (s *Service) AddComment(ctx context.Context, c *Comment) error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if c.Author == "" {
		c.Author = "system"
	}
	if _, err := s.repo.GetByID(ctx, c.TaskID); err != nil {
		return fmt.Errorf("task not found")
	}
	return s.repo.AddComment(ctx, c)
}

func (s *Service) ListComments(ctx context.Context, taskID uuid.UUID) ([]*Comment, error) {
	return s.repo.ListComments(ctx, taskID)
}

func (s *Service) publish(ctx context.Context, op string, doc interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, "tasks", op, doc)
	}
}
