package appointment

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
	"github.com/backlinemd/backlinemd/internal/platform/notify"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

// DefaultProvider takes appointments that arrive without one.
const DefaultProvider = "Dr. James O'Brien"

// PatientCounters is the slice of the patient repository used to keep
// the per-patient appointment counter in step. Satisfied by
// patient.Repository.
type PatientCounters interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	AdjustCounter(ctx context.Context, id uuid.UUID, field patient.CounterField, delta int) error
}

type Service struct {
	repo       Repository
	patients   PatientCounters
	pool       *pgxpool.Pool
	sink       workflow.Sink
	dispatcher *notify.Dispatcher
	publisher  websocket.Publisher
	logger     zerolog.Logger
}

func NewService(repo Repository, patients PatientCounters, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, pool: pool, logger: logger}
}

func (s *Service) SetSink(sink workflow.Sink)         { s.sink = sink }
func (s *Service) SetDispatcher(d *notify.Dispatcher) { s.dispatcher = d }
func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// calendarEventID derives the mock calendar booking reference.
func calendarEventID(id uuid.UUID) string {
	return "cal-" + id.String()[:8]
}

// Create books an appointment. The appointment row, its calendar
// reference, and the patient's appointment counter commit together.
func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	if a.Kind == "" {
		a.Kind = "consultation"
	}
	if !ValidKinds[a.Kind] {
		return fmt.Errorf("invalid kind: %s", a.Kind)
	}
	if a.Provider == "" {
		a.Provider = DefaultProvider
	}
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = 30
	}

	p, err := s.patients.GetByID(ctx, a.PatientID)
	if err != nil {
		return fmt.Errorf("patient not found")
	}

	a.Status = StatusScheduled
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		cal := calendarEventID(a.ID)
		a.CalendarEventID = &cal
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		return s.patients.AdjustCounter(ctx, a.PatientID, patient.CounterAppointments, 1)
	})
	if err != nil {
		return err
	}

	if s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      workflow.EventAppointmentScheduled,
			PatientID: a.PatientID,
			Meta:      map[string]string{"appointment_id": a.ID.String()},
		}); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).
				Msg("appointment_scheduled event failed")
		}
	}

	if s.dispatcher != nil && p.Email != nil && *p.Email != "" {
		s.dispatcher.SendTemplateAsync("appointment-scheduled", *p.Email, map[string]string{
			"patient_name": p.FullName(),
			"provider":     a.Provider,
			"scheduled_at": a.ScheduledAt.Format("Mon Jan 2 at 3:04 PM"),
		})
	}
	s.publish(ctx, websocket.OpInsert, a)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !ValidStatuses[f.Status] {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// ListToday returns today's appointments in local time.
func (s *Service) ListToday(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.repo.List(ctx, ListFilter{From: start, To: start.Add(24 * time.Hour)}, limit, offset)
}

func (s *Service) Update(ctx context.Context, a *Appointment) error {
	current, err := s.repo.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = current.Status
	}
	if !ValidStatuses[a.Status] {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	a.PatientID = current.PatientID
	a.CalendarEventID = current.CalendarEventID
	if err := s.repo.Update(ctx, a); err != nil {
		return err
	}
	s.publish(ctx, websocket.OpUpdate, a)
	return nil
}

// SetStatus moves an appointment through its lifecycle. Completion
// raises the appointment_completed event, which fans out the treatment
// plan and insurance verification work. Cancelling releases the
// patient's counter slot in the same transaction as the update.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	if !ValidStatuses[status] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == status {
		return a, nil
	}
	if TerminalStatuses[a.Status] {
		return nil, fmt.Errorf("appointment is already %s", a.Status)
	}

	a.Status = status
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if status == StatusCancelled {
			return s.patients.AdjustCounter(ctx, a.PatientID, patient.CounterAppointments, -1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.OpUpdate, a)

	if status == StatusCompleted && s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      workflow.EventAppointmentCompleted,
			PatientID: a.PatientID,
			Meta:      map[string]string{"appointment_id": a.ID.String()},
		}); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).
				Msg("appointment_completed event failed")
		}
	}
	return a, nil
}

// Delete removes an appointment and releases its slot in the patient's
// counter. A cancelled appointment already gave its slot back, so the
// counter is left alone.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		if a.Status == StatusCancelled {
			return nil
		}
		return s.patients.AdjustCounter(ctx, a.PatientID, patient.CounterAppointments, -1)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, websocket.OpDelete, map[string]string{"id": id.String()})
	return nil
}

func (s *Service) publish(ctx context.Context, op string, doc interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, "appointments", op, doc)
	}
}
