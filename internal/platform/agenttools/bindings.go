package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/backlinemd/backlinemd/internal/domain/appointment"
	"github.com/backlinemd/backlinemd/internal/domain/claim"
	"github.com/backlinemd/backlinemd/internal/domain/consent"
	"github.com/backlinemd/backlinemd/internal/domain/document"
	"github.com/backlinemd/backlinemd/internal/domain/patient"
	"github.com/backlinemd/backlinemd/internal/domain/task"
)

// Narrow views of the domain services, one per bound area. The concrete
// services satisfy these directly.

type PatientService interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	UpdatePatient(ctx context.Context, p *patient.Patient) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) (*patient.Patient, error)
	AddNote(ctx context.Context, n *patient.Note) error
}

type TaskService interface {
	CreateTask(ctx context.Context, t *task.Task) (bool, error)
	ListTasks(ctx context.Context, f task.ListFilter, limit, offset int) ([]*task.Task, int, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (*task.Task, error)
	AddComment(ctx context.Context, c *task.Comment) error
}

type ConsentService interface {
	SendForms(ctx context.Context, patientID uuid.UUID, templateIDs []uuid.UUID) ([]*consent.Form, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*consent.Form, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*consent.Form, error)
}

type DocumentService interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*document.Document, int, error)
}

type AppointmentService interface {
	Create(ctx context.Context, a *appointment.Appointment) error
	List(ctx context.Context, f appointment.ListFilter, limit, offset int) ([]*appointment.Appointment, int, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (*appointment.Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ClaimService interface {
	Create(ctx context.Context, c *claim.Claim) error
	List(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*claim.Claim, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, note string) (*claim.Claim, error)
}

// Services bundles everything the standard toolset binds to. Nil fields
// leave that area's tools unregistered.
type Services struct {
	Patients     PatientService
	Tasks        TaskService
	Consents     ConsentService
	Documents    DocumentService
	Appointments AppointmentService
	Claims       ClaimService
}

const listLimit = 100

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", field)
	}
	return id, nil
}

// NewStandardRegistry builds the registry the hosted agents work
// against. Tool names match the agent prompt contracts.
func NewStandardRegistry(svcs Services) *Registry {
	r := NewRegistry()
	if svcs.Patients != nil {
		registerPatientTools(r, svcs.Patients)
	}
	if svcs.Tasks != nil {
		registerTaskTools(r, svcs.Tasks)
	}
	if svcs.Consents != nil {
		registerConsentTools(r, svcs.Consents)
	}
	if svcs.Documents != nil {
		registerDocumentTools(r, svcs.Documents)
	}
	if svcs.Appointments != nil {
		registerAppointmentTools(r, svcs.Appointments)
	}
	if svcs.Claims != nil {
		registerClaimTools(r, svcs.Claims)
	}
	return r
}

func registerPatientTools(r *Registry, svc PatientService) {
	r.Register(Tool{
		Name:        "get_patient",
		Description: "Fetch a patient record by id.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID string `json:"patient_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			return svc.GetPatient(ctx, id)
		},
	})
	r.Register(Tool{
		Name:        "update_patient",
		Description: "Update patient contact details, preconditions, flags, or workflow status.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID     string   `json:"patient_id"`
				Email         *string  `json:"email"`
				Phone         *string  `json:"phone"`
				Preconditions []string `json:"preconditions"`
				Flags         []string `json:"flags"`
				Status        string   `json:"status"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			p, err := svc.GetPatient(ctx, id)
			if err != nil {
				return nil, err
			}
			if in.Email != nil {
				p.Email = in.Email
			}
			if in.Phone != nil {
				p.Phone = in.Phone
			}
			if in.Preconditions != nil {
				p.Preconditions = in.Preconditions
			}
			if in.Flags != nil {
				p.Flags = in.Flags
			}
			if err := svc.UpdatePatient(ctx, p); err != nil {
				return nil, err
			}
			if in.Status != "" && in.Status != p.Status {
				return svc.SetStatus(ctx, id, in.Status)
			}
			return p, nil
		},
	})
	r.Register(Tool{
		Name:        "add_patient_note",
		Description: "Append a note to a patient's chart.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID string `json:"patient_id"`
				Author    string `json:"author"`
				Content   string `json:"content"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			n := &patient.Note{PatientID: id, Author: in.Author, Content: in.Content}
			if err := svc.AddNote(ctx, n); err != nil {
				return nil, err
			}
			return n, nil
		},
	})
}

func registerTaskTools(r *Registry, svc TaskService) {
	r.Register(Tool{
		Name:        "create_task",
		Description: "Create a task, optionally assigned to an agent.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID   string `json:"patient_id"`
				Kind        string `json:"kind"`
				Title       string `json:"title"`
				Description string `json:"description"`
				Priority    string `json:"priority"`
				AssignedTo  string `json:"assigned_to"`
				AgentType   string `json:"agent_type"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			t := &task.Task{
				PatientID:   id,
				Kind:        in.Kind,
				Title:       in.Title,
				Description: in.Description,
				Priority:    in.Priority,
				AssignedTo:  in.AssignedTo,
				AgentType:   in.AgentType,
			}
			if _, err := svc.CreateTask(ctx, t); err != nil {
				return nil, err
			}
			return t, nil
		},
	})
	r.Register(Tool{
		Name:        "update_task",
		Description: "Move a task to a new status and optionally leave a comment.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				TaskID  string `json:"task_id"`
				Status  string `json:"status"`
				Comment string `json:"comment"`
				Author  string `json:"author"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.TaskID, "task_id")
			if err != nil {
				return nil, err
			}
			t, err := svc.SetStatus(ctx, id, in.Status)
			if err != nil {
				return nil, err
			}
			if in.Comment != "" {
				c := &task.Comment{TaskID: id, Author: in.Author, Content: in.Comment}
				if err := svc.AddComment(ctx, c); err != nil {
					return nil, err
				}
			}
			return t, nil
		},
	})
	r.Register(Tool{
		Name:        "get_tasks",
		Description: "List tasks, filterable by patient, status, and kind.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID string `json:"patient_id"`
				Status    string `json:"status"`
				Kind      string `json:"kind"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			f := task.ListFilter{Status: in.Status, Kind: in.Kind}
			if in.PatientID != "" {
				id, err := parseID(in.PatientID, "patient_id")
				if err != nil {
					return nil, err
				}
				f.PatientID = id
			}
			items, _, err := svc.ListTasks(ctx, f, listLimit, 0)
			return items, err
		},
	})
}

func registerConsentTools(r *Registry, svc ConsentService) {
	r.Register(Tool{
		Name:        "send_consent_forms",
		Description: "Send consent forms to a patient for signature. Omitting template_ids sends the default set.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID   string   `json:"patient_id"`
				TemplateIDs []string `json:"template_ids"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			var tmpl []uuid.UUID
			for _, raw := range in.TemplateIDs {
				tid, err := parseID(raw, "template_id")
				if err != nil {
					return nil, err
				}
				tmpl = append(tmpl, tid)
			}
			return svc.SendForms(ctx, id, tmpl)
		},
	})
	r.Register(Tool{
		Name:        "get_consent_forms",
		Description: "List a patient's consent forms and their signature status.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID string `json:"patient_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			return svc.ListForPatient(ctx, id)
		},
	})
	r.Register(Tool{
		Name:        "update_consent_form",
		Description: "Advance a consent form's signature status.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				FormID string `json:"form_id"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.FormID, "form_id")
			if err != nil {
				return nil, err
			}
			return svc.UpdateStatus(ctx, id, in.Status)
		},
	})
}

func registerDocumentTools(r *Registry, svc DocumentService) {
	r.Register(Tool{
		Name:        "get_documents",
		Description: "List a patient's documents with ingestion status and extracted data.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID string `json:"patient_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			items, _, err := svc.ListByPatient(ctx, id, listLimit, 0)
			return items, err
		},
	})
}

func registerAppointmentTools(r *Registry, svc AppointmentService) {
	r.Register(Tool{
		Name:        "create_appointment",
		Description: "Schedule an appointment. scheduled_at is RFC 3339.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID       string `json:"patient_id"`
				Title           string `json:"title"`
				Kind            string `json:"kind"`
				Provider        string `json:"provider"`
				ScheduledAt     string `json:"scheduled_at"`
				DurationMinutes int    `json:"duration_minutes"`
				Location        string `json:"location"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			at, err := time.Parse(time.RFC3339, in.ScheduledAt)
			if err != nil {
				return nil, fmt.Errorf("invalid scheduled_at: %w", err)
			}
			a := &appointment.Appointment{
				PatientID:       id,
				Title:           in.Title,
				Kind:            in.Kind,
				Provider:        in.Provider,
				ScheduledAt:     at,
				DurationMinutes: in.DurationMinutes,
				Location:        in.Location,
			}
			if err := svc.Create(ctx, a); err != nil {
				return nil, err
			}
			return a, nil
		},
	})
	r.Register(Tool{
		Name:        "get_appointments",
		Description: "List appointments, filterable by patient and status.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID string `json:"patient_id"`
				Status    string `json:"status"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			f := appointment.ListFilter{Status: in.Status}
			if in.PatientID != "" {
				id, err := parseID(in.PatientID, "patient_id")
				if err != nil {
					return nil, err
				}
				f.PatientID = id
			}
			items, _, err := svc.List(ctx, f, listLimit, 0)
			return items, err
		},
	})
	r.Register(Tool{
		Name:        "update_appointment",
		Description: "Move an appointment to a new status.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				AppointmentID string `json:"appointment_id"`
				Status        string `json:"status"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.AppointmentID, "appointment_id")
			if err != nil {
				return nil, err
			}
			return svc.SetStatus(ctx, id, in.Status)
		},
	})
	r.Register(Tool{
		Name:        "delete_appointment",
		Description: "Cancel and remove an appointment.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				AppointmentID string `json:"appointment_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.AppointmentID, "appointment_id")
			if err != nil {
				return nil, err
			}
			if err := svc.Delete(ctx, id); err != nil {
				return nil, err
			}
			return map[string]bool{"deleted": true}, nil
		},
	})
}

func registerClaimTools(r *Registry, svc ClaimService) {
	r.Register(Tool{
		Name:        "create_insurance_claim",
		Description: "Submit an insurance claim. amount_cents is an integer.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID     string `json:"patient_id"`
				Provider      string `json:"provider"`
				AmountCents   int64  `json:"amount_cents"`
				ProcedureCode string `json:"procedure_code"`
				DiagnosisCode string `json:"diagnosis_code"`
				ServiceDate   string `json:"service_date"`
				Description   string `json:"description"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.PatientID, "patient_id")
			if err != nil {
				return nil, err
			}
			c := &claim.Claim{PatientID: id, Provider: in.Provider, AmountCents: in.AmountCents}
			if in.ProcedureCode != "" {
				c.ProcedureCode = &in.ProcedureCode
			}
			if in.DiagnosisCode != "" {
				c.DiagnosisCode = &in.DiagnosisCode
			}
			if in.ServiceDate != "" {
				c.ServiceDate = &in.ServiceDate
			}
			if in.Description != "" {
				c.Description = &in.Description
			}
			if err := svc.Create(ctx, c); err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	r.Register(Tool{
		Name:        "update_insurance_claim",
		Description: "Move a claim to a new status; an event is always appended to its history.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				ClaimID string `json:"claim_id"`
				Status  string `json:"status"`
				Note    string `json:"note"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			id, err := parseID(in.ClaimID, "claim_id")
			if err != nil {
				return nil, err
			}
			return svc.UpdateStatus(ctx, id, in.Status, in.Note)
		},
	})
	r.Register(Tool{
		Name:        "get_insurance_claims",
		Description: "List claims, filterable by patient and status.",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in struct {
				PatientID string `json:"patient_id"`
				Status    string `json:"status"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			pid := uuid.Nil
			if in.PatientID != "" {
				id, err := parseID(in.PatientID, "patient_id")
				if err != nil {
					return nil, err
				}
				pid = id
			}
			items, _, err := svc.List(ctx, pid, in.Status, listLimit, 0)
			return items, err
		},
	})
}
