package consent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/patient"
	"github.com/backlinemd/backlinemd/internal/domain/workflow"
	"github.com/backlinemd/backlinemd/internal/platform/notify"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

// PatientLookup is the slice of the patient repository the consent flow
// needs. Satisfied by patient.Repository.
type PatientLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	repo       Repository
	patients   PatientLookup
	completion workflow.Completion
	dispatcher *notify.Dispatcher
	publisher  websocket.Publisher
	logger     zerolog.Logger
}

func NewService(repo Repository, patients PatientLookup, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, logger: logger}
}

func (s *Service) SetCompletion(c workflow.Completion) { s.completion = c }
func (s *Service) SetDispatcher(d *notify.Dispatcher)  { s.dispatcher = d }
func (s *Service) SetPublisher(p websocket.Publisher)  { s.publisher = p }

func (s *Service) Templates(ctx context.Context) ([]*Template, error) {
	return s.repo.ListTemplates(ctx)
}

func (s *Service) CreateTemplate(ctx context.Context, t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.CreateTemplate(ctx, t)
}

// envelopeID derives the e-sign envelope reference for a form.
func envelopeID(formID uuid.UUID) string {
	return "env-" + formID.String()[:8]
}

// SendForms pushes the patient's pending consent forms out for signing.
// The to_do batch is opened when the patient joins; sending advances
// those forms to sent, stamps an envelope reference, and emails the
// patient a signing request. With no template ids given, every pending
// form goes out.
func (s *Service) SendForms(ctx context.Context, patientID uuid.UUID, templateIDs []uuid.UUID) ([]*Form, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("patient not found")
	}

	existing, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	wanted := map[uuid.UUID]bool{}
	for _, tid := range templateIDs {
		wanted[tid] = true
	}

	var pending []*Form
	for _, f := range existing {
		if f.Status != StatusToDo {
			continue
		}
		if len(wanted) > 0 && !wanted[f.TemplateID] {
			continue
		}
		pending = append(pending, f)
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("no consent forms awaiting send")
	}

	now := time.Now()
	var forms []*Form
	for _, f := range pending {
		env := envelopeID(f.ID)
		f.Status = StatusSent
		f.EnvelopeID = &env
		f.SentAt = &now
		if err := s.repo.UpdateForm(ctx, f); err != nil {
			return nil, err
		}
		forms = append(forms, f)
		s.publish(ctx, websocket.OpUpdate, f)
	}

	if s.dispatcher != nil && p.Email != nil && *p.Email != "" {
		s.dispatcher.SendTemplateAsync("consent-request", *p.Email, map[string]string{
			"patient_name": p.FullName(),
			"form_count":   fmt.Sprintf("%d", len(forms)),
		})
	}
	return forms, nil
}

func (s *Service) GetForm(ctx context.Context, id uuid.UUID) (*Form, error) {
	return s.repo.GetForm(ctx, id)
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Form, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// UpdateStatus moves a form along its signing lifecycle. Signing the
// last outstanding form re-runs the completion check, which can advance
// the patient once documents are also done.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Form, error) {
	f, err := s.repo.GetForm(ctx, id)
	if err != nil {
		return nil, err
	}
	if status == f.Status {
		return f, nil
	}
	if !CanTransition(f.Status, status) {
		return nil, fmt.Errorf("cannot move consent from %s to %s", f.Status, status)
	}

	f.Status = status
	if status == StatusSigned {
		now := time.Now()
		f.SignedAt = &now
	}
	if err := s.repo.UpdateForm(ctx, f); err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.OpUpdate, f)

	if status == StatusSigned && s.completion != nil {
		if err := s.completion.CheckDocsAndConsents(ctx, f.PatientID); err != nil {
			s.logger.Error().Err(err).Str("patient_id", f.PatientID.String()).
				Msg("completion check failed")
		}
	}
	return f, nil
}

func (s *Service) publish(ctx context.Context, op string, doc interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, "consents", op, doc)
	}
}
