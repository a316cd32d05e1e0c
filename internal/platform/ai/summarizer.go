// Package ai generates and caches patient-facing text artifacts. Cached
// artifacts live in Redis with a TTL; a miss or expiry always means a
// fresh generation, and regeneration deletes the old entry first.
package ai

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/platform/db"
)

// ArtifactKindPatientSummary is the only artifact kind BacklineMD caches
// today.
const ArtifactKindPatientSummary = "patient_summary"

// SummaryTTL is how long a patient summary stays valid.
const SummaryTTL = time.Hour

const summarySystemPrompt = "You are a clinical operations assistant. " +
	"Summarize the patient's current state for a care coordinator in 3-5 sentences. " +
	"Mention workflow status, outstanding tasks, and upcoming appointments. " +
	"Only state facts present in the context."

// Summarizer resolves artifacts cache-first and regenerates on demand.
type Summarizer struct {
	cache  ArtifactCache
	gen    TextGenerator
	logger zerolog.Logger
}

func NewSummarizer(cache ArtifactCache, gen TextGenerator, logger zerolog.Logger) *Summarizer {
	return &Summarizer{cache: cache, gen: gen, logger: logger}
}

// Summary returns the cached artifact for the subject, generating one on
// miss or expiry. The prompt is assembled by the caller from
// already-loaded entity state.
func (s *Summarizer) Summary(ctx context.Context, subjectID, prompt string, citations []Citation) (*Artifact, error) {
	tenant := db.TenantFromContext(ctx)

	a, err := s.cache.Get(ctx, tenant, ArtifactKindPatientSummary, subjectID)
	if err == nil {
		return a, nil
	}
	if err != ErrCacheMiss {
		// A broken cache degrades to regeneration, never to failure.
		s.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("artifact cache read failed")
	}

	return s.generate(ctx, tenant, subjectID, prompt, citations)
}

// Regenerate discards any cached artifact and produces a new one.
func (s *Summarizer) Regenerate(ctx context.Context, subjectID, prompt string, citations []Citation) (*Artifact, error) {
	tenant := db.TenantFromContext(ctx)
	if err := s.cache.Delete(ctx, tenant, ArtifactKindPatientSummary, subjectID); err != nil {
		s.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("artifact cache delete failed")
	}
	return s.generate(ctx, tenant, subjectID, prompt, citations)
}

func (s *Summarizer) generate(ctx context.Context, tenant, subjectID, prompt string, citations []Citation) (*Artifact, error) {
	text, err := s.gen.Generate(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	a := &Artifact{
		Summary:     text,
		Citations:   citations,
		GeneratedAt: time.Now().UTC(),
		Model:       s.gen.Model(),
	}

	if err := s.cache.Set(ctx, tenant, ArtifactKindPatientSummary, subjectID, a, SummaryTTL); err != nil {
		s.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("artifact cache write failed")
	}
	return a, nil
}

// Invalidate removes the cached summary, forcing the next read to
// regenerate. Called when underlying patient state changes.
func (s *Summarizer) Invalidate(ctx context.Context, subjectID string) {
	tenant := db.TenantFromContext(ctx)
	if err := s.cache.Delete(ctx, tenant, ArtifactKindPatientSummary, subjectID); err != nil {
		s.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("artifact cache invalidation failed")
	}
}

// TruncateExcerpt bounds citation excerpts for cached artifacts. The
// cut lands on a rune boundary so multibyte text stays valid UTF-8.
func TruncateExcerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
