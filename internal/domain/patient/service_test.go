package patient

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/workflow"
)

type mockRepo struct {
	patients map[uuid.UUID]*Patient
	notes    map[uuid.UUID][]*Note
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[uuid.UUID]*Patient),
		notes:    make(map[uuid.UUID][]*Note),
	}
}

func (m *mockRepo) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	if p.MRN == "" {
		p.MRN = NewMRN()
	}
	if p.Status == "" {
		p.Status = DefaultStatus
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return p, nil
}

func (m *mockRepo) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	for _, p := range m.patients {
		if p.MRN == mrn {
			return p, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockRepo) Update(ctx context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return fmt.Errorf("not found")
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(p.FullName()), strings.ToLower(f.Query)) {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	p, ok := m.patients[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	p.Status = status
	return nil
}

func (m *mockRepo) AdjustCounter(ctx context.Context, id uuid.UUID, field CounterField, delta int) error {
	p, ok := m.patients[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	switch field {
	case CounterTasks:
		p.TasksCount += delta
	case CounterAppointments:
		p.AppointmentsCount += delta
	case CounterFlagged:
		p.FlaggedCount += delta
	}
	return nil
}

func (m *mockRepo) Count(ctx context.Context) (int, error) {
	return len(m.patients), nil
}

func (m *mockRepo) AddNote(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	m.notes[n.PatientID] = append(m.notes[n.PatientID], n)
	return nil
}

func (m *mockRepo) ListNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Note, int, error) {
	notes := m.notes[patientID]
	return notes, len(notes), nil
}

type recordingSink struct {
	events []workflow.Event
}

func (r *recordingSink) Handle(ctx context.Context, ev workflow.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func newTestService() (*Service, *mockRepo, *recordingSink) {
	repo := newMockRepo()
	sink := &recordingSink{}
	svc := NewService(repo, zerolog.Nop())
	svc.SetSink(sink)
	return svc, repo, sink
}

func TestCreatePatient(t *testing.T) {
	svc, _, sink := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if p.Status != string(workflow.StatusIntakeInProgress) {
		t.Errorf("status = %q, want %q", p.Status, workflow.StatusIntakeInProgress)
	}
	if !strings.HasPrefix(p.MRN, "MRN") || len(p.MRN) != 9 {
		t.Errorf("mrn = %q, want MRN + 6 digits", p.MRN)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != workflow.EventPatientCreated {
		t.Fatalf("events = %+v, want one patient_created", sink.events)
	}
	if sink.events[0].PatientID != p.ID {
		t.Errorf("event patient id = %s, want %s", sink.events[0].PatientID, p.ID)
	}
}

func TestCreatePatientRequiresName(t *testing.T) {
	svc, _, _ := newTestService()

	if err := svc.CreatePatient(context.Background(), &Patient{LastName: "Doe"}); err == nil {
		t.Error("expected error for missing first_name")
	}
	if err := svc.CreatePatient(context.Background(), &Patient{FirstName: "Jane"}); err == nil {
		t.Error("expected error for missing last_name")
	}
}

func TestSetStatusEmitsImpliedEvent(t *testing.T) {
	svc, _, sink := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	sink.events = nil

	got, err := svc.SetStatus(context.Background(), p.ID, string(workflow.StatusIntakeDone))
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.Status != string(workflow.StatusIntakeDone) {
		t.Errorf("status = %q, want %q", got.Status, workflow.StatusIntakeDone)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != workflow.EventIntakeCompleted {
		t.Fatalf("events = %+v, want one intake_completed", sink.events)
	}
	if sink.events[0].Meta["manual"] != "true" {
		t.Errorf("meta = %v, want manual=true", sink.events[0].Meta)
	}
}

func TestSetStatusWithoutImpliedEvent(t *testing.T) {
	svc, _, sink := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	sink.events = nil

	if _, err := svc.SetStatus(context.Background(), p.ID, string(workflow.StatusReviewScheduled)); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("events = %+v, want none", sink.events)
	}
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	svc, _, _ := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), p.ID, "Imaginary"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestAddNote(t *testing.T) {
	svc, repo, _ := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	n := &Note{PatientID: p.ID, Content: "Initial consult went well."}
	if err := svc.AddNote(context.Background(), n); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if n.Author != "system" {
		t.Errorf("author = %q, want system default", n.Author)
	}
	if len(repo.notes[p.ID]) != 1 {
		t.Fatalf("notes stored = %d, want 1", len(repo.notes[p.ID]))
	}

	if err := svc.AddNote(context.Background(), &Note{PatientID: p.ID}); err == nil {
		t.Error("expected error for empty content")
	}
	if err := svc.AddNote(context.Background(), &Note{PatientID: uuid.New(), Content: "x"}); err == nil {
		t.Error("expected error for unknown patient")
	}
}

type staticActivitySource struct {
	items []Activity
	err   error
}

func (s *staticActivitySource) RecentActivity(ctx context.Context, patientID uuid.UUID, since time.Time) ([]Activity, error) {
	return s.items, s.err
}

func TestActivitiesMergesAndSorts(t *testing.T) {
	svc, _, _ := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	now := time.Now()
	svc.AddActivitySource(&staticActivitySource{items: []Activity{
		{Type: "task", Title: "old", At: now.Add(-2 * time.Hour)},
	}})
	svc.AddActivitySource(&staticActivitySource{items: []Activity{
		{Type: "appointment", Title: "new", At: now.Add(-5 * time.Minute)},
	}})
	svc.AddActivitySource(&staticActivitySource{err: fmt.Errorf("boom")})

	feed, err := svc.Activities(context.Background(), p.ID, 10)
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("feed len = %d, want 2", len(feed))
	}
	if feed[0].Title != "new" || feed[1].Title != "old" {
		t.Errorf("feed order = %q,%q, want new,old", feed[0].Title, feed[1].Title)
	}
	if feed[1].TimeAgo != "2h ago" {
		t.Errorf("time_ago = %q, want 2h ago", feed[1].TimeAgo)
	}
}

func TestNgrams(t *testing.T) {
	grams := Ngrams("Jane")
	want := []string{"jan", "ane"}
	if len(grams) != len(want) {
		t.Fatalf("grams = %v, want %v", grams, want)
	}
	for i := range want {
		if grams[i] != want[i] {
			t.Errorf("gram %d = %q, want %q", i, grams[i], want[i])
		}
	}
	if got := Ngrams("Jo"); len(got) != 1 || got[0] != "jo" {
		t.Errorf("short query grams = %v, want [jo]", got)
	}
	if got := Ngrams(""); got != nil {
		t.Errorf("empty grams = %v, want nil", got)
	}
}

func TestTimeAgo(t *testing.T) {
	now := time.Now()
	cases := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-48 * time.Hour), "2d ago"},
	}
	for _, tc := range cases {
		if got := TimeAgo(tc.at, now); got != tc.want {
			t.Errorf("TimeAgo(%v) = %q, want %q", tc.at, got, tc.want)
		}
	}
}

func TestUpdatePatientKeepsStatus(t *testing.T) {
	svc, repo, _ := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	update := &Patient{
		ID:        p.ID,
		FirstName: "Janet",
		LastName:  "Doe",
		Status:    string(workflow.StatusReviewDone),
		MRN:       "MRN999999",
	}
	if err := svc.UpdatePatient(context.Background(), update); err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}

	stored := repo.patients[p.ID]
	if stored.FirstName != "Janet" {
		t.Errorf("first name = %q, want Janet", stored.FirstName)
	}
	if stored.Status != string(workflow.StatusIntakeInProgress) {
		t.Errorf("status = %q, want %q unchanged", stored.Status, workflow.StatusIntakeInProgress)
	}
	if stored.MRN != p.MRN {
		t.Errorf("mrn = %q, want %q unchanged", stored.MRN, p.MRN)
	}
}

type staticSummarySource struct {
	lines []string
	err   error
}

func (s *staticSummarySource) SummaryLines(ctx context.Context, patientID uuid.UUID) ([]string, error) {
	return s.lines, s.err
}

func TestSummaryInputIncludesChartSources(t *testing.T) {
	svc, _, _ := newTestService()

	p := &Patient{FirstName: "Jane", LastName: "Doe"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if err := svc.AddNote(context.Background(), &Note{PatientID: p.ID, Content: "Allergic to penicillin."}); err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	svc.AddSummarySource(&staticSummarySource{lines: []string{"Task: Verify insurance coverage (open, high priority)"}})
	svc.AddSummarySource(&staticSummarySource{err: fmt.Errorf("boom")})

	prompt, citations, err := svc.summaryInput(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("summaryInput: %v", err)
	}
	if !strings.Contains(prompt, "Task: Verify insurance coverage") {
		t.Errorf("prompt missing chart line:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Allergic to penicillin.") {
		t.Errorf("prompt missing note:\n%s", prompt)
	}
	if len(citations) != 1 || citations[0].Kind != "note" {
		t.Errorf("citations = %+v, want one note citation", citations)
	}
}
