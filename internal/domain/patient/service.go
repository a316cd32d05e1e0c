package patient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/workflow"
	"github.com/backlinemd/backlinemd/internal/platform/ai"
	"github.com/backlinemd/backlinemd/internal/platform/notify"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

type Service struct {
	repo       Repository
	sink       workflow.Sink
	dispatcher *notify.Dispatcher
	summarizer *ai.Summarizer
	publisher  websocket.Publisher
	sources    []ActivitySource
	chart      []SummarySource
	logger     zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetSink attaches the lifecycle event sink. Optional; without one,
// creates and status changes persist but fan out no tasks.
func (s *Service) SetSink(sink workflow.Sink) { s.sink = sink }

func (s *Service) SetDispatcher(d *notify.Dispatcher) { s.dispatcher = d }
func (s *Service) SetSummarizer(sum *ai.Summarizer)   { s.summarizer = sum }
func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

// AddActivitySource registers a feed contributor. Sources are queried in
// registration order when assembling a patient's recent activity.
func (s *Service) AddActivitySource(src ActivitySource) {
	s.sources = append(s.sources, src)
}

// AddSummarySource registers a chart contributor for the AI summary
// prompt. Registered in the same place as the activity sources.
func (s *Service) AddSummarySource(src SummarySource) {
	s.chart = append(s.chart, src)
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.FirstName) == "" {
		return fmt.Errorf("first_name is required")
	}
	if strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("last_name is required")
	}
	if p.Status != "" && !workflow.ValidStatuses[workflow.Status(p.Status)] {
		return fmt.Errorf("invalid status: %s", p.Status)
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}

	if s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      workflow.EventPatientCreated,
			PatientID: p.ID,
		}); err != nil {
			s.logger.Error().Err(err).Str("patient_id", p.ID.String()).
				Msg("patient_created event failed")
		}
	}

	if s.dispatcher != nil && p.Email != nil && *p.Email != "" {
		s.dispatcher.SendTemplateAsync("patient-welcome", *p.Email, map[string]string{
			"patient_name": p.FullName(),
		})
	}
	s.publish(ctx, websocket.OpInsert, p)
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.repo.GetByMRN(ctx, mrn)
}

func (s *Service) ListPatients(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	if f.Status != "" && !workflow.ValidStatuses[workflow.Status(f.Status)] {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	// Status moves go through SetStatus so the lifecycle events fire.
	p.Status = current.Status
	p.MRN = current.MRN
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	if s.summarizer != nil {
		s.summarizer.Invalidate(ctx, p.ID.String())
	}
	s.publish(ctx, websocket.OpUpdate, p)
	return nil
}

// SetStatus moves a patient to an explicit status. When the target
// status implies a lifecycle event, the event fans out its tasks exactly
// as if the flow had reached the status on its own.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) (*Patient, error) {
	if !workflow.ValidStatuses[workflow.Status(status)] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	if ev, ok := workflow.EventForManualStatus(workflow.Status(status)); ok && s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      ev,
			PatientID: id,
			Meta:      map[string]string{"manual": "true"},
		}); err != nil {
			s.logger.Error().Err(err).Str("patient_id", id.String()).
				Str("event", string(ev)).Msg("status event failed")
		}
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.summarizer != nil {
		s.summarizer.Invalidate(ctx, id.String())
	}
	s.publish(ctx, websocket.OpUpdate, p)
	return p, nil
}

func (s *Service) AddNote(ctx context.Context, n *Note) error {
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if n.Author == "" {
		n.Author = "system"
	}
	if _, err := s.repo.GetByID(ctx, n.PatientID); err != nil {
		return fmt.Errorf("patient not found")
	}
	if err := s.repo.AddNote(ctx, n); err != nil {
		return err
	}
	if s.summarizer != nil {
		s.summarizer.Invalidate(ctx, n.PatientID.String())
	}
	return nil
}

func (s *Service) ListNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Note, int, error) {
	return s.repo.ListNotes(ctx, patientID, limit, offset)
}

// Activities assembles the recent-activity feed across all registered
// sources, newest first. A failing source is skipped, not fatal.
func (s *Service) Activities(ctx context.Context, patientID uuid.UUID, limit int) ([]Activity, error) {
	if _, err := s.repo.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	since := time.Now().AddDate(0, -3, 0)
	now := time.Now()

	var feed []Activity
	for _, src := range s.sources {
		items, err := src.RecentActivity(ctx, patientID, since)
		if err != nil {
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).
				Msg("activity source failed")
			continue
		}
		feed = append(feed, items...)
	}
	sort.Slice(feed, func(i, j int) bool { return feed[i].At.After(feed[j].At) })
	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}
	for i := range feed {
		feed[i].TimeAgo = TimeAgo(feed[i].At, now)
	}
	return feed, nil
}

// Summary returns the cached AI summary for a patient, generating one
// when the cache has nothing fresh.
func (s *Service) Summary(ctx context.Context, id uuid.UUID) (*ai.Artifact, error) {
	if s.summarizer == nil {
		return nil, fmt.Errorf("summaries are not configured")
	}
	prompt, citations, err := s.summaryInput(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summarizer.Summary(ctx, id.String(), prompt, citations)
}

// RegenerateSummary discards any cached summary and builds a new one.
func (s *Service) RegenerateSummary(ctx context.Context, id uuid.UUID) (*ai.Artifact, error) {
	if s.summarizer == nil {
		return nil, fmt.Errorf("summaries are not configured")
	}
	prompt, citations, err := s.summaryInput(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summarizer.Regenerate(ctx, id.String(), prompt, citations)
}

func (s *Service) summaryInput(ctx context.Context, id uuid.UUID) (string, []ai.Citation, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	notes, _, err := s.repo.ListNotes(ctx, id, 10, 0)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s (%s)\nStatus: %s\n", p.FullName(), p.MRN, p.Status)
	if len(p.Preconditions) > 0 {
		fmt.Fprintf(&b, "Preconditions: %s\n", strings.Join(p.Preconditions, ", "))
	}
	if p.Insurance != nil {
		fmt.Fprintf(&b, "Insurance: %s\n", p.Insurance.Provider)
	}
	for _, src := range s.chart {
		lines, err := src.SummaryLines(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("patient_id", id.String()).
				Msg("summary source failed")
			continue
		}
		for _, line := range lines {
			fmt.Fprintln(&b, line)
		}
	}
	var citations []ai.Citation
	for _, n := range notes {
		fmt.Fprintf(&b, "Note (%s): %s\n", n.Author, n.Content)
		citations = append(citations, ai.Citation{
			DocID:   n.ID.String(),
			Kind:    "note",
			Excerpt: ai.TruncateExcerpt(n.Content, 120),
		})
	}
	return b.String(), citations, nil
}

// SendNotification delivers a templated message to the patient over the
// requested channel.
func (s *Service) SendNotification(ctx context.Context, id uuid.UUID, templateID string, data map[string]string) error {
	if s.dispatcher == nil {
		return fmt.Errorf("notifications are not configured")
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if data == nil {
		data = map[string]string{}
	}
	if _, ok := data["patient_name"]; !ok {
		data["patient_name"] = p.FullName()
	}

	tpl, ok := s.dispatcher.Templates().Get(templateID)
	if !ok {
		return fmt.Errorf("unknown template: %s", templateID)
	}
	switch tpl.Channel {
	case notify.ChannelVoice:
		if p.Phone == nil || *p.Phone == "" {
			return fmt.Errorf("patient has no phone on file")
		}
		phone, err := notify.NormalizePhone(*p.Phone)
		if err != nil {
			return err
		}
		s.dispatcher.ScheduleCallAsync(phone, p.FullName(), p.ID.String(), data)
	default:
		if p.Email == nil || *p.Email == "" {
			return fmt.Errorf("patient has no email on file")
		}
		s.dispatcher.SendTemplateAsync(templateID, *p.Email, data)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, op string, doc interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, "patients", op, doc)
	}
}
