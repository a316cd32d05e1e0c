package task

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/patient"
	"github.com/backlinemd/backlinemd/internal/domain/workflow"
)

type mockRepo struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*Task
	comments map[uuid.UUID][]*Comment
	seq      int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		tasks:    make(map[uuid.UUID]*Task),
		comments: make(map[uuid.UUID][]*Comment),
	}
}

func (m *mockRepo) Create(ctx context.Context, t *Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.DedupeKey != nil {
		for _, existing := range m.tasks {
			if existing.DedupeKey != nil && *existing.DedupeKey == *t.DedupeKey &&
				!TerminalStatuses[existing.Status] {
				return false, nil
			}
		}
	}
	t.ID = uuid.New()
	if t.Status == "" {
		t.Status = StatusOpen
	}
	m.seq++
	t.DisplayID = FormatDisplayID(m.seq)
	t.CreatedAt = time.Now()
	cp := *t
	m.tasks[t.ID] = &cp
	return true, nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) Update(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		if f.PatientID != uuid.Nil && t.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AgentType != "" && t.AgentType != f.AgentType {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) CountOpen(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, t := range m.tasks {
		if !TerminalStatuses[t.Status] {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Task, error) {
	out, _, _ := m.List(ctx, ListFilter{PatientID: patientID}, 1000, 0)
	return out, nil
}

func (m *mockRepo) AddComment(ctx context.Context, c *Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.comments[c.TaskID] = append(m.comments[c.TaskID], c)
	return nil
}

func (m *mockRepo) ListComments(ctx context.Context, taskID uuid.UUID) ([]*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.comments[taskID], nil
}

type mockPatients struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return p, nil
}

func (m *mockPatients) AdjustCounter(ctx context.Context, id uuid.UUID, field patient.CounterField, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	if field == patient.CounterTasks {
		p.TasksCount += delta
	}
	return nil
}

func newTestService() (*Service, *mockRepo, *mockPatients, uuid.UUID) {
	repo := newMockRepo()
	pid := uuid.New()
	patients := &mockPatients{patients: map[uuid.UUID]*patient.Patient{
		pid: {ID: pid, FirstName: "Jane", LastName: "Doe"},
	}}
	svc := NewService(repo, patients, nil, zerolog.Nop())
	return svc, repo, patients, pid
}

func TestCreateTask(t *testing.T) {
	svc, _, patients, pid := newTestService()

	task := &Task{PatientID: pid, Title: "Collect insurance card", Kind: "document_collection"}
	created, err := svc.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if !created {
		t.Fatal("expected task to be created")
	}
	if task.DisplayID != "T00001" {
		t.Errorf("display_id = %q, want T00001", task.DisplayID)
	}
	if task.PatientName != "Jane Doe" {
		t.Errorf("patient_name = %q, want Jane Doe", task.PatientName)
	}
	if task.Priority != "medium" {
		t.Errorf("priority = %q, want medium default", task.Priority)
	}
	if patients.patients[pid].TasksCount != 1 {
		t.Errorf("tasks_count = %d, want 1", patients.patients[pid].TasksCount)
	}
}

func TestCreateTaskDedupe(t *testing.T) {
	svc, _, patients, pid := newTestService()

	key := workflow.DedupeKey(pid.String(), workflow.EventPatientCreated, "patient_onboarding")
	first := &Task{PatientID: pid, Title: "Onboard", DedupeKey: &key}
	if created, err := svc.CreateTask(context.Background(), first); err != nil || !created {
		t.Fatalf("first create = %v, %v", created, err)
	}

	dup := &Task{PatientID: pid, Title: "Onboard again", DedupeKey: &key}
	created, err := svc.CreateTask(context.Background(), dup)
	if err != nil {
		t.Fatalf("dup create: %v", err)
	}
	if created {
		t.Error("duplicate emission created a second task")
	}
	if patients.patients[pid].TasksCount != 1 {
		t.Errorf("tasks_count = %d, want 1 after dedupe", patients.patients[pid].TasksCount)
	}

	// Finishing the task frees the key for a future emission.
	if _, err := svc.SetStatus(context.Background(), first.ID, StatusDone); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	again := &Task{PatientID: pid, Title: "Onboard later", DedupeKey: &key}
	if created, err := svc.CreateTask(context.Background(), again); err != nil || !created {
		t.Errorf("recreate after done = %v, %v, want created", created, err)
	}
}

func TestSetStatusReleasesCounter(t *testing.T) {
	svc, _, patients, pid := newTestService()

	task := &Task{PatientID: pid, Title: "Verify coverage"}
	if _, err := svc.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := svc.SetStatus(context.Background(), task.ID, StatusInProgress)
	if err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if patients.patients[pid].TasksCount != 1 {
		t.Errorf("tasks_count = %d after in_progress, want 1", patients.patients[pid].TasksCount)
	}

	got, err = svc.SetStatus(context.Background(), got.ID, StatusDone)
	if err != nil {
		t.Fatalf("to done: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("done task missing completed_at")
	}
	if patients.patients[pid].TasksCount != 0 {
		t.Errorf("tasks_count = %d after done, want 0", patients.patients[pid].TasksCount)
	}

	if _, err := svc.SetStatus(context.Background(), got.ID, StatusOpen); err == nil {
		t.Error("expected error reopening a done task")
	}
}

func TestConcurrentCreatesCountEveryTask(t *testing.T) {
	svc, _, patients, pid := newTestService()

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := &Task{PatientID: pid, Title: fmt.Sprintf("Task %d", i)}
			if _, err := svc.CreateTask(context.Background(), task); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent create: %v", err)
	}
	if got := patients.patients[pid].TasksCount; got != n {
		t.Errorf("tasks_count = %d, want %d", got, n)
	}
}

func TestDeleteActiveTaskReleasesCounter(t *testing.T) {
	svc, _, patients, pid := newTestService()

	task := &Task{PatientID: pid, Title: "Scratch"}
	if _, err := svc.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := svc.DeleteTask(context.Background(), task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if got := patients.patients[pid].TasksCount; got != 0 {
		t.Errorf("tasks_count = %d, want 0", got)
	}
}

func TestAddComment(t *testing.T) {
	svc, repo, _, pid := newTestService()

	task := &Task{PatientID: pid, Title: "Review extraction"}
	if _, err := svc.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	cm := &Comment{TaskID: task.ID, Author: "care-coordinator", Content: "Left voicemail."}
	if err := svc.AddComment(context.Background(), cm); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if len(repo.comments[task.ID]) != 1 {
		t.Fatalf("comments = %d, want 1", len(repo.comments[task.ID]))
	}

	if err := svc.AddComment(context.Background(), &Comment{TaskID: task.ID}); err == nil {
		t.Error("expected error for empty content")
	}
	if err := svc.AddComment(context.Background(), &Comment{TaskID: uuid.New(), Content: "x"}); err == nil {
		t.Error("expected error for unknown task")
	}
}

type recordingSink struct {
	events []workflow.Event
}

func (r *recordingSink) Handle(ctx context.Context, ev workflow.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestInsuranceVerificationDoneRaisesEvent(t *testing.T) {
	svc, _, _, pid := newTestService()
	sink := &recordingSink{}
	svc.SetSink(sink)

	task := &Task{PatientID: pid, Kind: workflow.KindInsuranceVerification, Title: "Verify insurance coverage"}
	if _, err := svc.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := svc.SetStatus(context.Background(), task.ID, StatusInProgress); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("events = %+v before done, want none", sink.events)
	}

	if _, err := svc.SetStatus(context.Background(), task.ID, StatusDone); err != nil {
		t.Fatalf("to done: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != workflow.EventInsuranceVerified {
		t.Fatalf("events = %+v, want one insurance_verified", sink.events)
	}
	if sink.events[0].PatientID != pid {
		t.Errorf("event patient = %s, want %s", sink.events[0].PatientID, pid)
	}
	if sink.events[0].Meta["task_id"] != task.ID.String() {
		t.Errorf("event task_id = %q", sink.events[0].Meta["task_id"])
	}
}

func TestOtherKindsDoneStaySilent(t *testing.T) {
	svc, _, _, pid := newTestService()
	sink := &recordingSink{}
	svc.SetSink(sink)

	task := &Task{PatientID: pid, Kind: "treatment_plan", Title: "Prepare treatment plan"}
	if _, err := svc.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), task.ID, StatusDone); err != nil {
		t.Fatalf("to done: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("events = %+v, want none for a non-verification task", sink.events)
	}
}
