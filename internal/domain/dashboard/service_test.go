package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/backlinemd/backlinemd/internal/domain/appointment"
)

type stubCounts struct {
	patients int
	open     int
	appts    int
	claims   int

	claimStatuses []string
	apptFrom      time.Time
	apptTo        time.Time
}

func (s *stubCounts) Count(ctx context.Context) (int, error)     { return s.patients, nil }
func (s *stubCounts) CountOpen(ctx context.Context) (int, error) { return s.open, nil }

func (s *stubCounts) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	s.apptFrom, s.apptTo = from, to
	return s.appts, nil
}

func (s *stubCounts) CountByStatus(ctx context.Context, statuses ...string) (int, error) {
	s.claimStatuses = statuses
	return s.claims, nil
}

func (s *stubCounts) ListToday(ctx context.Context, limit, offset int) ([]*appointment.Appointment, int, error) {
	return nil, 0, nil
}

func TestStats(t *testing.T) {
	stub := &stubCounts{patients: 42, open: 7, appts: 3, claims: 5}
	svc := NewService(stub, stub, stub, stub, stub)
	svc.now = func() time.Time {
		return time.Date(2025, time.March, 14, 15, 9, 0, 0, time.UTC)
	}

	st, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.PendingTasks != 7 || st.AppointmentsToday != 3 || st.PatientsTotal != 42 || st.ClaimsPending != 5 {
		t.Errorf("stats = %+v", st)
	}

	wantFrom := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)
	if !stub.apptFrom.Equal(wantFrom) || !stub.apptTo.Equal(wantFrom.Add(24*time.Hour)) {
		t.Errorf("appointment window = %v..%v", stub.apptFrom, stub.apptTo)
	}

	want := []string{"pending", "submitted", "received", "under_review"}
	if len(stub.claimStatuses) != len(want) {
		t.Fatalf("claim statuses = %v", stub.claimStatuses)
	}
	for i := range want {
		if stub.claimStatuses[i] != want[i] {
			t.Errorf("claim status %d = %q, want %q", i, stub.claimStatuses[i], want[i])
		}
	}
}
