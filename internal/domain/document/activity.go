package document

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

// NewActivitySource exposes document uploads and ingest results to the
// patient activity feed.
func NewActivitySource(repo Repository) patient.ActivitySource {
	return &activitySource{repo: repo}
}

type summarySource struct {
	repo Repository
}

// NewSummarySource feeds the patient's document roster into the AI
// summary prompt.
func NewSummarySource(repo Repository) patient.SummarySource {
	return &summarySource{repo: repo}
}

func (s *summarySource) SummaryLines(ctx context.Context, patientID uuid.UUID) ([]string, error) {
	docs, _, err := s.repo.ListByPatient(ctx, patientID, 10, 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range docs {
		out = append(out, fmt.Sprintf("Document: %s (%s, %s)", d.Name, d.Kind, d.Status))
	}
	return out, nil
}

func (a *activitySource) RecentActivity(ctx context.Context, patientID uuid.UUID, since time.Time) ([]patient.Activity, error) {
	docs, err := a.repo.ListRecent(ctx, patientID, since)
	if err != nil {
		return nil, err
	}
	var out []patient.Activity
	for _, d := range docs {
		out = append(out, patient.Activity{
			Type:  "document",
			Title: fmt.Sprintf("Document uploaded: %s", d.Name),
			At:    d.UploadedAt,
			RefID: d.ID.String(),
		})
		if d.IngestedAt != nil {
			title := fmt.Sprintf("Document ingested: %s", d.Name)
			if d.Status == StatusNotIngested {
				title = fmt.Sprintf("Document flagged for review: %s", d.Name)
			}
			out = append(out, patient.Activity{
				Type:  "document",
				Title: title,
				At:    *d.IngestedAt,
				RefID: d.ID.String(),
			})
		}
	}
	return out, nil
}
