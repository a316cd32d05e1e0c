// Package orchestrator applies the workflow rules against storage. It is
// the single place lifecycle events land: status moves, task fan-out,
// claim submission, and the follow-up notifications all happen here.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/claim"
	"github.com/backlinemd/backlinemd/internal/domain/consent"
	"github.com/backlinemd/backlinemd/internal/domain/patient"
	"github.com/backlinemd/backlinemd/internal/domain/task"
	"github.com/backlinemd/backlinemd/internal/domain/workflow"
	"github.com/backlinemd/backlinemd/internal/platform/db"
	"github.com/backlinemd/backlinemd/internal/platform/notify"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

// DefaultClaimCents is charged when an insurance verification carries no
// amount of its own.
const DefaultClaimCents int64 = 125000

// TaskCreator is the slice of the task service the orchestrator uses.
type TaskCreator interface {
	CreateTask(ctx context.Context, t *task.Task) (bool, error)
}

// ClaimCreator is the slice of the claim service the orchestrator uses.
type ClaimCreator interface {
	Create(ctx context.Context, c *claim.Claim) error
}

// DocCounter reports document ingestion progress for a patient.
type DocCounter interface {
	CountByPatient(ctx context.Context, patientID uuid.UUID) (total, terminal, ingested int, err error)
}

// ConsentStore reports consent signing progress and holds the intake
// form batch. Satisfied by consent.Repository.
type ConsentStore interface {
	CountByPatient(ctx context.Context, patientID uuid.UUID) (total, signed int, err error)
	ListTemplates(ctx context.Context) ([]*consent.Template, error)
	CreateForm(ctx context.Context, f *consent.Form) error
}

type Orchestrator struct {
	patients   patient.Repository
	tasks      TaskCreator
	claims     ClaimCreator
	documents  DocCounter
	consents   ConsentStore
	pool       *pgxpool.Pool
	dispatcher *notify.Dispatcher
	publisher  websocket.Publisher
	logger     zerolog.Logger
}

var _ workflow.Sink = (*Orchestrator)(nil)
var _ workflow.Completion = (*Orchestrator)(nil)

func New(patients patient.Repository, tasks TaskCreator, claims ClaimCreator,
	documents DocCounter, consents ConsentStore, pool *pgxpool.Pool, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		patients:  patients,
		tasks:     tasks,
		claims:    claims,
		documents: documents,
		consents:  consents,
		pool:      pool,
		logger:    logger,
	}
}

func (o *Orchestrator) SetDispatcher(d *notify.Dispatcher) { o.dispatcher = d }
func (o *Orchestrator) SetPublisher(p websocket.Publisher) { o.publisher = p }

func (o *Orchestrator) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, o.pool, fn)
}

// Handle applies one lifecycle event: the status move (when the pair is
// modeled) and the event's task fan-out commit in a single transaction.
// Redelivered events are harmless: unmodeled status pairs no-op, and
// task dedupe keys swallow repeat emissions.
func (o *Orchestrator) Handle(ctx context.Context, ev workflow.Event) error {
	p, err := o.patients.GetByID(ctx, ev.PatientID)
	if err != nil {
		return fmt.Errorf("load patient %s: %w", ev.PatientID, err)
	}

	specs := workflow.Emit(ev.Kind, p.FullName())
	next, moved := workflow.Next(workflow.Status(p.Status), ev.Kind)

	err = o.inTx(ctx, func(ctx context.Context) error {
		if moved {
			if err := o.patients.UpdateStatus(ctx, p.ID, string(next)); err != nil {
				return fmt.Errorf("advance status: %w", err)
			}
			p.Status = string(next)
		}
		for _, spec := range specs {
			key := workflow.DedupeKey(p.ID.String(), ev.Kind, spec.Kind)
			t := &task.Task{
				PatientID:   p.ID,
				PatientName: p.FullName(),
				Kind:        spec.Kind,
				Title:       spec.Title,
				Description: spec.Description,
				AssignedTo:  spec.AssignedTo,
				AgentType:   spec.AgentType,
				Priority:    spec.Priority,
				DedupeKey:   &key,
			}
			created, err := o.tasks.CreateTask(ctx, t)
			if err != nil {
				return fmt.Errorf("emit task %s: %w", spec.Kind, err)
			}
			if !created {
				o.logger.Debug().Str("dedupe_key", key).Msg("task emission deduplicated")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if moved {
		o.logger.Info().
			Str("patient_id", p.ID.String()).
			Str("event", string(ev.Kind)).
			Str("status", p.Status).
			Msg("patient advanced")
		if o.publisher != nil {
			o.publisher.Publish(ctx, "patients", websocket.OpUpdate, p)
		}
	}

	o.afterEvent(ctx, p, ev)
	return nil
}

// afterEvent runs the best-effort side effects. Failures here are logged
// and never unwind the committed event.
func (o *Orchestrator) afterEvent(ctx context.Context, p *patient.Patient, ev workflow.Event) {
	switch ev.Kind {
	case workflow.EventPatientCreated:
		if err := o.seedConsentForms(ctx, p); err != nil {
			o.logger.Error().Err(err).Str("patient_id", p.ID.String()).
				Msg("consent batch creation failed")
		}
	case workflow.EventInsuranceVerified:
		if err := o.submitClaim(ctx, p, ev); err != nil {
			o.logger.Error().Err(err).Str("patient_id", p.ID.String()).
				Msg("claim submission failed")
		}
	case workflow.EventExtractionCompleted:
		if o.dispatcher != nil && p.Phone != nil && *p.Phone != "" {
			o.dispatcher.ScheduleCallAsync(*p.Phone, p.FullName(), p.ID.String(), map[string]string{
				"reason": "medical history review",
			})
		}
	case workflow.EventDocsAndConsentsComplete:
		if o.dispatcher != nil && p.Email != nil && *p.Email != "" {
			o.dispatcher.SendTemplateAsync("documents-received", *p.Email, map[string]string{
				"patient_name": p.FullName(),
			})
		}
	}
}

// seedConsentForms opens a to_do form per template when a patient joins.
// The forms sit unsent until staff or an agent pushes them out.
func (o *Orchestrator) seedConsentForms(ctx context.Context, p *patient.Patient) error {
	if o.consents == nil {
		return nil
	}
	templates, err := o.consents.ListTemplates(ctx)
	if err != nil {
		return err
	}
	for _, t := range templates {
		f := &consent.Form{
			PatientID:  p.ID,
			TemplateID: t.ID,
			Name:       t.Name,
			Status:     consent.StatusToDo,
		}
		if err := o.consents.CreateForm(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) submitClaim(ctx context.Context, p *patient.Patient, ev workflow.Event) error {
	if o.claims == nil {
		return nil
	}
	provider := "Self-Pay"
	if p.Insurance != nil && p.Insurance.Provider != "" {
		provider = p.Insurance.Provider
	}
	cents := DefaultClaimCents
	if raw, ok := ev.Meta["amount_cents"]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			cents = v
		}
	}
	desc := "Initial consultation and treatment plan"
	return o.claims.Create(ctx, &claim.Claim{
		PatientID:   p.ID,
		Provider:    provider,
		AmountCents: cents,
		Description: &desc,
	})
}

// CheckDocsAndConsents fires docs_and_consents_complete once every
// uploaded document has finished ingestion and every consent form is
// signed. Requires at least one of each, so an empty chart never
// advances.
func (o *Orchestrator) CheckDocsAndConsents(ctx context.Context, patientID uuid.UUID) error {
	docTotal, docTerminal, _, err := o.documents.CountByPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if docTotal == 0 || docTerminal < docTotal {
		return nil
	}
	consentTotal, signed, err := o.consents.CountByPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if consentTotal == 0 || signed < consentTotal {
		return nil
	}
	return o.Handle(ctx, workflow.Event{
		Kind:      workflow.EventDocsAndConsentsComplete,
		PatientID: patientID,
	})
}
