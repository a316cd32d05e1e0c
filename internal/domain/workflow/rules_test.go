package workflow

import "testing"

func TestNext_ModeledTransitions(t *testing.T) {
	cases := []struct {
		from Status
		ev   EventKind
		want Status
	}{
		{StatusIntakeInProgress, EventIntakeCompleted, StatusIntakeDone},
		{StatusIntakeInProgress, EventFirstDocumentUploaded, StatusDocCollectionProgress},
		{StatusIntakeDone, EventFirstDocumentUploaded, StatusDocCollectionProgress},
		{StatusDocCollectionProgress, EventDocsAndConsentsComplete, StatusDocCollectionDone},
		{StatusDocCollectionDone, EventExtractionCompleted, StatusAwaitingResponse},
		{StatusAwaitingResponse, EventAppointmentScheduled, StatusConsultScheduled},
		{StatusConsultScheduled, EventAppointmentCompleted, StatusConsultComplete},
	}

	for _, tc := range cases {
		got, ok := Next(tc.from, tc.ev)
		if !ok {
			t.Errorf("Next(%q, %q): expected a transition", tc.from, tc.ev)
			continue
		}
		if got != tc.want {
			t.Errorf("Next(%q, %q) = %q, want %q", tc.from, tc.ev, got, tc.want)
		}
	}
}

func TestNext_UnmodeledPairsAreNoOps(t *testing.T) {
	cases := []struct {
		from Status
		ev   EventKind
	}{
		{StatusConsultComplete, EventIntakeCompleted},
		{StatusIntakeInProgress, EventAppointmentCompleted},
		{StatusDocCollectionDone, EventDocsAndConsentsComplete},
		{StatusAwaitingResponse, EventPatientCreated},
	}

	for _, tc := range cases {
		if next, ok := Next(tc.from, tc.ev); ok {
			t.Errorf("Next(%q, %q) = %q, expected no-op", tc.from, tc.ev, next)
		}
	}
}

func TestNext_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		got, ok := Next(StatusIntakeInProgress, EventIntakeCompleted)
		if !ok || got != StatusIntakeDone {
			t.Fatalf("iteration %d: Next changed its answer: %q %v", i, got, ok)
		}
	}
}

func TestEmit_PatientCreated(t *testing.T) {
	specs := Emit(EventPatientCreated, "Jane Doe")
	if len(specs) != 3 {
		t.Fatalf("expected 3 tasks on patient creation, got %d", len(specs))
	}

	kinds := map[string]TaskSpec{}
	for _, s := range specs {
		kinds[s.Kind] = s
	}

	if s, ok := kinds["patient_onboarding"]; !ok || s.AgentType != AgentAI {
		t.Errorf("expected automated onboarding task, got %+v", s)
	}
	if s, ok := kinds["document_collection"]; !ok || s.AgentType != AgentAI {
		t.Errorf("expected automated document collection task, got %+v", s)
	}
	if s, ok := kinds["consent_forms"]; !ok || s.AgentType != AgentHuman {
		t.Errorf("expected human consent task, got %+v", s)
	}
}

func TestEmit_ExtractionLowConfidenceIsHighPriorityHuman(t *testing.T) {
	specs := Emit(EventExtractionLowConfidence, "Jane Doe")
	if len(specs) != 1 {
		t.Fatalf("expected 1 review task, got %d", len(specs))
	}
	if specs[0].Priority != "high" || specs[0].AgentType != AgentHuman {
		t.Errorf("expected high-priority human review, got %+v", specs[0])
	}
}

func TestEmit_AppointmentCompleted(t *testing.T) {
	specs := Emit(EventAppointmentCompleted, "Jane Doe")
	if len(specs) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(specs))
	}
	if specs[0].Kind != "treatment_plan" || specs[0].AgentType != AgentHuman {
		t.Errorf("unexpected first task: %+v", specs[0])
	}
	if specs[1].Kind != "insurance_verification" || specs[1].AgentType != AgentAI {
		t.Errorf("unexpected second task: %+v", specs[1])
	}
}

func TestEmit_ClaimDeniedIsUrgent(t *testing.T) {
	specs := Emit(EventClaimDenied, "Jane Doe")
	if len(specs) != 1 || specs[0].Priority != "urgent" {
		t.Fatalf("expected single urgent follow-up, got %+v", specs)
	}
}

func TestEmit_UnknownEvent(t *testing.T) {
	if specs := Emit(EventKind("bogus"), "Jane Doe"); specs != nil {
		t.Errorf("expected nil for unknown event, got %v", specs)
	}
}

func TestDedupeKey(t *testing.T) {
	k1 := DedupeKey("p-1", EventPatientCreated, "patient_onboarding")
	k2 := DedupeKey("p-1", EventPatientCreated, "patient_onboarding")
	if k1 != k2 {
		t.Error("dedupe key must be stable")
	}
	if k1 == DedupeKey("p-2", EventPatientCreated, "patient_onboarding") {
		t.Error("dedupe key must vary by patient")
	}
	if k1 == DedupeKey("p-1", EventIntakeCompleted, "patient_onboarding") {
		t.Error("dedupe key must vary by event")
	}
	if k1 == DedupeKey("p-1", EventPatientCreated, "consent_forms") {
		t.Error("dedupe key must vary by task kind")
	}
}

func TestEventForManualStatus(t *testing.T) {
	if ev, ok := EventForManualStatus(StatusIntakeDone); !ok || ev != EventIntakeCompleted {
		t.Errorf("expected intake_completed, got %q %v", ev, ok)
	}
	if _, ok := EventForManualStatus(StatusReviewScheduled); ok {
		t.Error("expected no event for review scheduled")
	}
}
