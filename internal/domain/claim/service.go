package claim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/workflow"
	"github.com/backlinemd/backlinemd/internal/platform/db"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

type Service struct {
	repo      Repository
	pool      *pgxpool.Pool
	sink      workflow.Sink
	publisher websocket.Publisher
	logger    zerolog.Logger
}

func NewService(repo Repository, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{repo: repo, pool: pool, logger: logger}
}

func (s *Service) SetSink(sink workflow.Sink)         { s.sink = sink }
func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// Create submits a claim. The claim row and its opening history entry
// commit together.
func (s *Service) Create(ctx context.Context, c *Claim) error {
	if c.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(c.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if c.AmountCents <= 0 {
		return fmt.Errorf("amount_cents must be positive")
	}

	now := time.Now().UTC()
	c.Status = StatusPending
	c.SubmittedDate = now.Format("2006-01-02")
	c.LastEventAt = now
	if c.Description == nil && c.ProcedureCode != nil {
		desc := fmt.Sprintf("Claim for %s", *c.ProcedureCode)
		c.Description = &desc
	}
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		return s.repo.AppendEvent(ctx, &Event{
			ClaimID: c.ID,
			Status:  StatusPending,
			Note:    fmt.Sprintf("Claim opened with %s for %s", c.Provider, FormatAmount(c.AmountCents)),
		})
	})
	if err != nil {
		return err
	}
	s.publish(ctx, websocket.OpInsert, c)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Claim, int, error) {
	if status != "" && !ValidStatuses[status] {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.repo.List(ctx, patientID, status, limit, offset)
}

func (s *Service) History(ctx context.Context, claimID uuid.UUID) ([]*Event, error) {
	if _, err := s.repo.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, claimID)
}

// UpdateStatus moves a claim and appends the history entry, even when
// the status is unchanged: payer checks that find nothing new still
// leave a trace. A denial raises the claim_denied event.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status, note string) (*Claim, error) {
	if !ValidStatuses[status] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if note == "" {
		note = fmt.Sprintf("Status changed from %s to %s", c.Status, status)
		if c.Status == status {
			note = fmt.Sprintf("Status rechecked, still %s", status)
		}
	}

	eventAt := time.Now().UTC()
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, id, status, eventAt); err != nil {
			return err
		}
		return s.repo.AppendEvent(ctx, &Event{ClaimID: id, Status: status, Note: note, CreatedAt: eventAt})
	})
	if err != nil {
		return nil, err
	}

	c.Status = status
	c.LastEventAt = eventAt
	s.publish(ctx, websocket.OpUpdate, c)

	if status == StatusDenied && s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      workflow.EventClaimDenied,
			PatientID: c.PatientID,
			Meta:      map[string]string{"claim_id": c.ID.String(), "display_id": c.DisplayID},
		}); err != nil {
			s.logger.Error().Err(err).Str("claim_id", c.ID.String()).
				Msg("claim_denied event failed")
		}
	}
	return c, nil
}

func (s *Service) publish(ctx context.Context, op string, doc interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, "claims", op, doc)
	}
}
