package consent

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

// NewActivitySource exposes consent sends and signatures to the patient
// activity feed.
func NewActivitySource(repo Repository) patient.ActivitySource {
	return &activitySource{repo: repo}
}

func (a *activitySource) RecentActivity(ctx context.Context, patientID uuid.UUID, since time.Time) ([]patient.Activity, error) {
	forms, err := a.repo.ListRecent(ctx, patientID, since)
	if err != nil {
		return nil, err
	}
	var out []patient.Activity
	for _, f := range forms {
		if f.SentAt != nil {
			out = append(out, patient.Activity{
				Type:  "consent",
				Title: fmt.Sprintf("Consent sent: %s", f.Name),
				At:    *f.SentAt,
				RefID: f.ID.String(),
			})
		}
		if f.SignedAt != nil {
			out = append(out, patient.Activity{
				Type:  "consent",
				Title: fmt.Sprintf("Consent signed: %s", f.Name),
				At:    *f.SignedAt,
				RefID: f.ID.String(),
			})
		}
	}
	return out, nil
}
