package task

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

// NewActivitySource exposes task creation and completion to the patient
// activity feed.
func NewActivitySource(repo Repository) patient.ActivitySource {
	return &activitySource{repo: repo}
}

type summarySource struct {
	repo Repository
}

// NewSummarySource feeds the patient's open work into the AI summary
// prompt.
func NewSummarySource(repo Repository) patient.SummarySource {
	return &summarySource{repo: repo}
}

func (s *summarySource) SummaryLines(ctx context.Context, patientID uuid.UUID) ([]string, error) {
	tasks, _, err := s.repo.List(ctx, ListFilter{PatientID: patientID}, 10, 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range tasks {
		out = append(out, fmt.Sprintf("Task: %s (%s, %s priority)", t.Title, t.Status, t.Priority))
	}
	return out, nil
}

func (a *activitySource) RecentActivity(ctx context.Context, patientID uuid.UUID, since time.Time) ([]patient.Activity, error) {
	tasks, err := a.repo.ListRecent(ctx, patientID, since)
	if err != nil {
		return nil, err
	}
	var out []patient.Activity
	for _, t := range tasks {
		out = append(out, patient.Activity{
			Type:  "task",
			Title: fmt.Sprintf("Task created: %s", t.Title),
			At:    t.CreatedAt,
			RefID: t.DisplayID,
		})
		if t.CompletedAt != nil {
			out = append(out, patient.Activity{
				Type:  "task",
				Title: fmt.Sprintf("Task completed: %s", t.Title),
				At:    *t.CompletedAt,
				RefID: t.DisplayID,
			})
		}
	}
	return out, nil
}
