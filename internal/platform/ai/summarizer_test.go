package ai

import (
	"context"
	"os"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/backlinemd/backlinemd/internal/platform/db"
)

func testCtx() context.Context {
	return db.WithTenant(context.Background(), "default")
}

func newTestSummarizer(gen *MockTextGenerator) (*Summarizer, *MemoryArtifactCache) {
	cache := NewMemoryArtifactCache()
	return NewSummarizer(cache, gen, zerolog.New(os.Stderr)), cache
}

func TestSummary_GeneratesOnMiss(t *testing.T) {
	gen := &MockTextGenerator{Response: "Jane is mid-intake."}
	s, _ := newTestSummarizer(gen)

	a, err := s.Summary(testCtx(), "p-1", "patient facts", []Citation{{DocID: "d-1", Kind: "lab"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Summary != "Jane is mid-intake." {
		t.Errorf("unexpected summary: %q", a.Summary)
	}
	if a.Model != "mock-model" {
		t.Errorf("expected model recorded, got %q", a.Model)
	}
	if len(a.Citations) != 1 || a.Citations[0].DocID != "d-1" {
		t.Errorf("citations not preserved: %v", a.Citations)
	}
	if len(gen.Prompts()) != 1 {
		t.Fatalf("expected 1 generation, got %d", len(gen.Prompts()))
	}
}

func TestSummary_ServedFromCache(t *testing.T) {
	gen := &MockTextGenerator{}
	s, _ := newTestSummarizer(gen)

	if _, err := s.Summary(testCtx(), "p-1", "facts", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Summary(testCtx(), "p-1", "facts", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(gen.Prompts()); got != 1 {
		t.Fatalf("expected cached artifact to be reused, got %d generations", got)
	}
}

func TestSummary_ExpiredRegenerates(t *testing.T) {
	gen := &MockTextGenerator{}
	s, cache := newTestSummarizer(gen)

	now := time.Now()
	cache.Now = func() time.Time { return now }

	if _, err := s.Summary(testCtx(), "p-1", "facts", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(SummaryTTL + time.Minute)
	if _, err := s.Summary(testCtx(), "p-1", "facts", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(gen.Prompts()); got != 2 {
		t.Fatalf("expected regeneration after TTL, got %d generations", got)
	}
}

func TestRegenerate_DiscardsCache(t *testing.T) {
	gen := &MockTextGenerator{}
	s, _ := newTestSummarizer(gen)

	if _, err := s.Summary(testCtx(), "p-1", "facts", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Regenerate(testCtx(), "p-1", "facts", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(gen.Prompts()); got != 2 {
		t.Fatalf("expected forced regeneration, got %d generations", got)
	}
}

func TestSummary_TenantsIsolated(t *testing.T) {
	gen := &MockTextGenerator{}
	s, _ := newTestSummarizer(gen)

	ctxA := db.WithTenant(context.Background(), "clinic_a")
	ctxB := db.WithTenant(context.Background(), "clinic_b")

	s.Summary(ctxA, "p-1", "facts", nil)
	s.Summary(ctxB, "p-1", "facts", nil)

	if got := len(gen.Prompts()); got != 2 {
		t.Fatalf("expected per-tenant artifacts, got %d generations", got)
	}
}

func TestSummary_GenerationFailure(t *testing.T) {
	gen := &MockTextGenerator{ShouldFail: true}
	s, _ := newTestSummarizer(gen)

	if _, err := s.Summary(testCtx(), "p-1", "facts", nil); err == nil {
		t.Fatal("expected error when generation fails")
	}
}

func TestTruncateExcerpt(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := TruncateExcerpt(string(long), 200); len(got) != 200 {
		t.Errorf("expected 200 chars, got %d", len(got))
	}

	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short note", 120, "short note"},
		{"abcdef", 4, "abcd"},
		{"naïve approach", 3, "na"},  // ï spans bytes 2-3
		{"naïve approach", 4, "naï"}, // cut lands after the full rune
		{"héllo", 2, "h"},
	}
	for _, tc := range cases {
		got := TruncateExcerpt(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("TruncateExcerpt(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("TruncateExcerpt(%q, %d) = %q is not valid UTF-8", tc.in, tc.max, got)
		}
	}
}
