package document

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/domain/workflow"
	"github.com/backlinemd/backlinemd/internal/platform/db"
	"github.com/backlinemd/backlinemd/internal/platform/websocket"
)

// MaxUploadBytes caps a single document upload.
const MaxUploadBytes = 25 << 20

type Service struct {
	repo       Repository
	pool       *pgxpool.Pool
	sink       workflow.Sink
	completion workflow.Completion
	publisher  websocket.Publisher
	logger     zerolog.Logger

	storageDir string

	// Ingestion pacing and scoring, overridable in tests.
	ingestDelay  time.Duration
	extractDelay time.Duration
	confidence   func() float64
}

func NewService(repo Repository, pool *pgxpool.Pool, storageDir string, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		pool:         pool,
		storageDir:   storageDir,
		logger:       logger,
		ingestDelay:  2 * time.Second,
		extractDelay: 3 * time.Second,
		confidence:   func() float64 { return 0.75 + rand.Float64()*0.23 },
	}
}

func (s *Service) SetSink(sink workflow.Sink)          { s.sink = sink }
func (s *Service) SetCompletion(c workflow.Completion) { s.completion = c }
func (s *Service) SetPublisher(p websocket.Publisher)  { s.publisher = p }

// SetIngestionPacing overrides the simulated ingestion delays.
func (s *Service) SetIngestionPacing(ingest, extract time.Duration) {
	s.ingestDelay = ingest
	s.extractDelay = extract
}

// SetConfidenceFn overrides the extraction confidence source.
func (s *Service) SetConfidenceFn(fn func() float64) { s.confidence = fn }

// Upload stores the file, records the document, and kicks off ingestion
// in the background. The first document a patient uploads moves them
// into document collection.
func (s *Service) Upload(ctx context.Context, d *Document, file io.Reader) error {
	if d.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if d.Kind == "" {
		d.Kind = "other"
	}
	if !ValidKinds[d.Kind] {
		return fmt.Errorf("invalid kind: %s", d.Kind)
	}

	total, _, _, err := s.repo.CountByPatient(ctx, d.PatientID)
	if err != nil {
		return err
	}
	first := total == 0

	if file != nil {
		path, size, err := s.store(d, file)
		if err != nil {
			return err
		}
		d.StoragePath = path
		d.SizeBytes = size
	}

	d.Status = StatusUploaded
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}

	if first && s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      workflow.EventFirstDocumentUploaded,
			PatientID: d.PatientID,
			Meta:      map[string]string{"document_id": d.ID.String()},
		}); err != nil {
			s.logger.Error().Err(err).Str("document_id", d.ID.String()).
				Msg("first_document_uploaded event failed")
		}
	}

	s.publish(ctx, websocket.OpInsert, d)
	go s.ingest(db.TenantFromContext(ctx), d.ID, d.PatientID)
	return nil
}

func (s *Service) store(d *Document, file io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("prepare storage dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s", uuid.New().String()[:8], filepath.Base(d.Name))
	path := filepath.Join(s.storageDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("store document: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("store document: %w", err)
	}
	if size > MaxUploadBytes {
		os.Remove(path)
		return "", 0, fmt.Errorf("document exceeds %d bytes", MaxUploadBytes)
	}
	return path, size, nil
}

// ingest simulates the extraction pipeline: the document sits briefly in
// ingesting, then lands on ingested or not_ingested depending on the
// extraction confidence. Low confidence raises a review event instead of
// failing silently.
func (s *Service) ingest(tenant string, docID, patientID uuid.UUID) {
	time.Sleep(s.ingestDelay)

	ctx, release, err := s.tenantContext(tenant)
	if err != nil {
		s.logger.Error().Err(err).Str("document_id", docID.String()).Msg("ingestion aborted")
		return
	}
	defer release()

	d, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		s.logger.Error().Err(err).Str("document_id", docID.String()).Msg("ingestion load failed")
		return
	}

	d.Status = StatusIngesting
	if err := s.repo.Update(ctx, d); err != nil {
		s.logger.Error().Err(err).Str("document_id", docID.String()).Msg("ingestion update failed")
		return
	}
	s.publish(ctx, websocket.OpUpdate, d)

	time.Sleep(s.extractDelay)

	conf := s.confidence()
	now := time.Now()
	d.Confidence = &conf
	d.IngestedAt = &now
	d.Extracted = mockExtraction(d)

	if conf >= ConfidenceThreshold {
		d.Status = StatusIngested
	} else {
		d.Status = StatusNotIngested
	}
	if err := s.repo.Update(ctx, d); err != nil {
		s.logger.Error().Err(err).Str("document_id", docID.String()).Msg("ingestion finalize failed")
		return
	}
	s.publish(ctx, websocket.OpUpdate, d)

	if d.Status == StatusNotIngested && s.sink != nil {
		if err := s.sink.Handle(ctx, workflow.Event{
			Kind:      workflow.EventExtractionLowConfidence,
			PatientID: patientID,
			Meta: map[string]string{
				"document_id": docID.String(),
				"confidence":  fmt.Sprintf("%.2f", conf),
			},
		}); err != nil {
			s.logger.Error().Err(err).Str("document_id", docID.String()).
				Msg("extraction_low_confidence event failed")
		}
	}

	if s.completion != nil {
		if err := s.completion.CheckDocsAndConsents(ctx, patientID); err != nil {
			s.logger.Error().Err(err).Str("patient_id", patientID.String()).
				Msg("completion check failed")
		}
	}
}

func (s *Service) tenantContext(tenant string) (context.Context, func(), error) {
	ctx := context.Background()
	if s.pool == nil || tenant == "" {
		return db.WithTenant(ctx, tenant), func() {}, nil
	}
	return db.AcquireTenant(ctx, s.pool, tenant)
}

func mockExtraction(d *Document) map[string]interface{} {
	return map[string]interface{}{
		"source":     d.Name,
		"kind":       d.Kind,
		"conditions": []string{"hypertension"},
		"medications": []string{
			"lisinopril 10mg daily",
		},
		"allergies": []string{"none reported"},
	}
}

func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Document, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if d.StoragePath != "" {
		if err := os.Remove(d.StoragePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", d.StoragePath).Msg("stored file not removed")
		}
	}
	s.publish(ctx, websocket.OpDelete, map[string]string{"id": id.String()})
	return nil
}

// Reingest reruns the extraction pipeline for a document that already
// finished, typically after a low-confidence result was corrected.
func (s *Service) Reingest(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !TerminalStatuses[d.Status] {
		return nil, fmt.Errorf("document is still ingesting")
	}
	d.Status = StatusUploaded
	d.Confidence = nil
	d.IngestedAt = nil
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.OpUpdate, d)
	go s.ingest(db.TenantFromContext(ctx), d.ID, d.PatientID)
	return d, nil
}

func (s *Service) publish(ctx context.Context, op string, doc interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, "documents", op, doc)
	}
}
