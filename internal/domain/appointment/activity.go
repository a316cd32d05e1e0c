package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/backlinemd/backlinemd/internal/domain/patient"
)

type activitySource struct {
	repo Repository
}

// NewActivitySource exposes bookings to the patient activity feed.
func NewActivitySource(repo Repository) patient.ActivitySource {
	return &activitySource{repo: repo}
}

type summarySource struct {
	repo Repository
}

// NewSummarySource feeds the patient's bookings into the AI summary
// prompt.
func NewSummarySource(repo Repository) patient.SummarySource {
	return &summarySource{repo: repo}
}

func (s *summarySource) SummaryLines(ctx context.Context, patientID uuid.UUID) ([]string, error) {
	appts, _, err := s.repo.List(ctx, ListFilter{PatientID: patientID}, 10, 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ap := range appts {
		out = append(out, fmt.Sprintf("Appointment: %s with %s on %s (%s)",
			ap.Title, ap.Provider, ap.ScheduledAt.Format("2006-01-02"), ap.Status))
	}
	return out, nil
}

func (a *activitySource) RecentActivity(ctx context.Context, patientID uuid.UUID, since time.Time) ([]patient.Activity, error) {
	appts, err := a.repo.ListRecent(ctx, patientID, since)
	if err != nil {
		return nil, err
	}
	var out []patient.Activity
	for _, ap := range appts {
		out = append(out, patient.Activity{
			Type:  "appointment",
			Title: fmt.Sprintf("Appointment %s: %s with %s", ap.Status, ap.Title, ap.Provider),
			At:    ap.UpdatedAt,
			RefID: ap.ID.String(),
		})
	}
	return out, nil
}
