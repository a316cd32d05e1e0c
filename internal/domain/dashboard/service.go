// Package dashboard aggregates counts across the other domain packages
// for the landing-page stat cards.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/backlinemd/backlinemd/internal/domain/appointment"
	"github.com/backlinemd/backlinemd/internal/domain/claim"
)

type PatientCounter interface {
	Count(ctx context.Context) (int, error)
}

type TaskCounter interface {
	CountOpen(ctx context.Context) (int, error)
}

type AppointmentCounter interface {
	CountBetween(ctx context.Context, from, to time.Time) (int, error)
}

// AppointmentLister feeds the dashboard's schedule panel. Satisfied by
// the appointment service.
type AppointmentLister interface {
	ListToday(ctx context.Context, limit, offset int) ([]*appointment.Appointment, int, error)
}

type ClaimCounter interface {
	CountByStatus(ctx context.Context, statuses ...string) (int, error)
}

// Stats is the dashboard header payload.
type Stats struct {
	PendingTasks      int `json:"pending_tasks"`
	AppointmentsToday int `json:"appointments_today"`
	PatientsTotal     int `json:"patients_total"`
	ClaimsPending     int `json:"claims_pending"`
}

type Service struct {
	patients     PatientCounter
	tasks        TaskCounter
	appointments AppointmentCounter
	claims       ClaimCounter
	schedule     AppointmentLister

	now func() time.Time
}

func NewService(patients PatientCounter, tasks TaskCounter, appointments AppointmentCounter, claims ClaimCounter, schedule AppointmentLister) *Service {
	return &Service{
		patients:     patients,
		tasks:        tasks,
		appointments: appointments,
		claims:       claims,
		schedule:     schedule,
		now:          time.Now,
	}
}

// TodaysAppointments returns the schedule panel rows.
func (s *Service) TodaysAppointments(ctx context.Context, limit, offset int) ([]*appointment.Appointment, int, error) {
	return s.schedule.ListToday(ctx, limit, offset)
}

// Stats collects the four header counts. "Today" is the server's local
// calendar day; pending claims are everything not yet settled.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error

	if st.PendingTasks, err = s.tasks.CountOpen(ctx); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.Add(24 * time.Hour)
	if st.AppointmentsToday, err = s.appointments.CountBetween(ctx, start, end); err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}

	if st.PatientsTotal, err = s.patients.Count(ctx); err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}

	if st.ClaimsPending, err = s.claims.CountByStatus(ctx,
		claim.StatusPending, claim.StatusSubmitted, claim.StatusReceived, claim.StatusUnderReview); err != nil {
		return nil, fmt.Errorf("count claims: %w", err)
	}
	return &st, nil
}
