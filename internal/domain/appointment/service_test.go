package appointment

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/patient"
	"github.com/backlinemd/backlinemd/internal/domain/workflow"
)

type mockRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) Update(ctx context.Context, a *Appointment) error {
	if _, ok := m.appts[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(m.appts, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appts {
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && a.ScheduledAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.ScheduledAt.Before(f.To) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	items, total, _ := m.List(ctx, ListFilter{From: from, To: to}, 1000, 0)
	_ = items
	return total, nil
}

func (m *mockRepo) ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Appointment, error) {
	out, _, _ := m.List(ctx, ListFilter{PatientID: patientID}, 1000, 0)
	return out, nil
}

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return p, nil
}

func (m *mockPatients) AdjustCounter(ctx context.Context, id uuid.UUID, field patient.CounterField, delta int) error {
	p, ok := m.patients[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	if field == patient.CounterAppointments {
		p.AppointmentsCount += delta
	}
	return nil
}

type recordingSink struct {
	events []workflow.Event
}

func (r *recordingSink) Handle(ctx context.Context, ev workflow.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func newTestService() (*Service, *mockRepo, *mockPatients, *recordingSink, uuid.UUID) {
	repo := newMockRepo()
	pid := uuid.New()
	patients := &mockPatients{patients: map[uuid.UUID]*patient.Patient{
		pid: {ID: pid, FirstName: "Jane", LastName: "Doe"},
	}}
	sink := &recordingSink{}
	svc := NewService(repo, patients, nil, zerolog.Nop())
	svc.SetSink(sink)
	return svc, repo, patients, sink, pid
}

func TestCreateAppointment(t *testing.T) {
	svc, _, patients, sink, pid := newTestService()

	a := &Appointment{
		PatientID:   pid,
		Title:       "Initial Consultation",
		ScheduledAt: time.Now().Add(48 * time.Hour),
	}
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Status != StatusScheduled {
		t.Errorf("status = %q, want scheduled", a.Status)
	}
	if a.Provider != DefaultProvider {
		t.Errorf("provider = %q, want default", a.Provider)
	}
	if a.CalendarEventID == nil || !strings.HasPrefix(*a.CalendarEventID, "cal-") {
		t.Errorf("calendar event = %v, want cal- prefix", a.CalendarEventID)
	}
	if patients.patients[pid].AppointmentsCount != 1 {
		t.Errorf("appointments_count = %d, want 1", patients.patients[pid].AppointmentsCount)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != workflow.EventAppointmentScheduled {
		t.Fatalf("events = %+v, want one appointment_scheduled", sink.events)
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	svc, _, _, _, pid := newTestService()

	cases := []*Appointment{
		{Title: "x", ScheduledAt: time.Now()},
		{PatientID: pid, ScheduledAt: time.Now()},
		{PatientID: pid, Title: "x"},
		{PatientID: pid, Title: "x", ScheduledAt: time.Now(), Kind: "surgery-on-mars"},
		{PatientID: uuid.New(), Title: "x", ScheduledAt: time.Now()},
	}
	for i, a := range cases {
		if err := svc.Create(context.Background(), a); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestCompleteAppointmentEmitsEvent(t *testing.T) {
	svc, _, _, sink, pid := newTestService()

	a := &Appointment{PatientID: pid, Title: "Consult", ScheduledAt: time.Now()}
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sink.events = nil

	got, err := svc.SetStatus(context.Background(), a.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != workflow.EventAppointmentCompleted {
		t.Fatalf("events = %+v, want one appointment_completed", sink.events)
	}

	// Terminal appointments reject further moves.
	if _, err := svc.SetStatus(context.Background(), a.ID, StatusConfirmed); err == nil {
		t.Error("expected error on completed -> confirmed")
	}
}

func TestSetStatusNonCompletionEmitsNothing(t *testing.T) {
	svc, _, _, sink, pid := newTestService()

	a := &Appointment{PatientID: pid, Title: "Consult", ScheduledAt: time.Now()}
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sink.events = nil

	if _, err := svc.SetStatus(context.Background(), a.ID, StatusConfirmed); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), a.ID, StatusNoShow); err != nil {
		t.Fatalf("SetStatus no-show: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("events = %+v, want none", sink.events)
	}
}

func TestDeleteReleasesCounter(t *testing.T) {
	svc, _, patients, _, pid := newTestService()

	a := &Appointment{PatientID: pid, Title: "Consult", ScheduledAt: time.Now()}
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := patients.patients[pid].AppointmentsCount; got != 0 {
		t.Errorf("appointments_count = %d, want 0", got)
	}
}

func TestListToday(t *testing.T) {
	svc, _, _, _, pid := newTestService()

	now := time.Now()
	noon := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	today := &Appointment{PatientID: pid, Title: "Today", ScheduledAt: noon}
	tomorrow := &Appointment{PatientID: pid, Title: "Tomorrow", ScheduledAt: noon.Add(24 * time.Hour)}
	for _, a := range []*Appointment{today, tomorrow} {
		if err := svc.Create(context.Background(), a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	items, _, err := svc.ListToday(context.Background(), 50, 0)
	if err != nil {
		t.Fatalf("ListToday: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Today" {
		t.Errorf("today list = %+v, want just Today", items)
	}
}

func TestCancelReleasesCounter(t *testing.T) {
	svc, _, patients, _, pid := newTestService()

	a := &Appointment{PatientID: pid, Title: "Consult", ScheduledAt: time.Now()}
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := patients.patients[pid].AppointmentsCount; got != 1 {
		t.Fatalf("appointments_count = %d before cancel, want 1", got)
	}

	if _, err := svc.SetStatus(context.Background(), a.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := patients.patients[pid].AppointmentsCount; got != 0 {
		t.Errorf("appointments_count = %d after cancel, want 0", got)
	}
}

func TestDeleteCancelledSkipsCounter(t *testing.T) {
	svc, _, patients, _, pid := newTestService()

	keep := &Appointment{PatientID: pid, Title: "Follow-up", ScheduledAt: time.Now().Add(time.Hour)}
	cancelled := &Appointment{PatientID: pid, Title: "Consult", ScheduledAt: time.Now()}
	for _, a := range []*Appointment{keep, cancelled} {
		if err := svc.Create(context.Background(), a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := svc.SetStatus(context.Background(), cancelled.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The cancelled appointment already released its slot; deleting it
	// must not decrement again.
	if err := svc.Delete(context.Background(), cancelled.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := patients.patients[pid].AppointmentsCount; got != 1 {
		t.Errorf("appointments_count = %d, want 1 for the remaining booking", got)
	}
}

func TestCompletedKeepsCounter(t *testing.T) {
	svc, _, patients, _, pid := newTestService()

	a := &Appointment{PatientID: pid, Title: "Consult", ScheduledAt: time.Now()}
	if err := svc.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), a.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := patients.patients[pid].AppointmentsCount; got != 1 {
		t.Errorf("appointments_count = %d after completion, want 1", got)
	}
}
