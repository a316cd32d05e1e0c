package workflow

import "fmt"

// AgentType says who works a task.
const (
	AgentAI    = "ai_agent"
	AgentHuman = "human"
)

// KindInsuranceVerification is watched by the task service: that task
// reaching done raises insurance_verified.
const KindInsuranceVerification = "insurance_verification"

// TaskSpec describes a task an event wants created. The orchestrator
// materializes specs into task records inside the event's transaction.
type TaskSpec struct {
	Kind        string
	Title       string
	Description string
	AssignedTo  string
	AgentType   string
	Priority    string
}

// DedupeKey identifies a logical emission so redelivered events cannot
// create duplicates. Unique per (patient, event, task kind).
func DedupeKey(patientID string, ev EventKind, taskKind string) string {
	return fmt.Sprintf("%s:%s:%s", patientID, ev, taskKind)
}

// Emit returns the tasks an event fans out for a patient, in emission
// order. patientName is denormalized onto each task for list views.
func Emit(ev EventKind, patientName string) []TaskSpec {
	switch ev {
	case EventPatientCreated:
		return []TaskSpec{
			{
				Kind:        "patient_onboarding",
				Title:       fmt.Sprintf("Welcome %s and begin intake", patientName),
				Description: "Send the welcome packet and confirm contact details with the patient.",
				AssignedTo:  "Intake Agent",
				AgentType:   AgentAI,
				Priority:    "medium",
			},
			{
				Kind:        "document_collection",
				Title:       fmt.Sprintf("Prepare document collection for %s", patientName),
				Description: "Identify required records and stand ready to ingest uploads.",
				AssignedTo:  "Medical Records Coordinator",
				AgentType:   AgentAI,
				Priority:    "high",
			},
			{
				Kind:        "consent_forms",
				Title:       fmt.Sprintf("Send consent forms to %s", patientName),
				Description: "Send the default consent forms for signature.",
				AssignedTo:  "Care Coordinator",
				AgentType:   AgentHuman,
				Priority:    "medium",
			},
		}
	case EventDocsAndConsentsComplete:
		return []TaskSpec{
			{
				Kind:        "document_extraction",
				Title:       fmt.Sprintf("Extract medical data for %s", patientName),
				Description: "Run extraction across the collected documents and record structured results.",
				AssignedTo:  "Document Extraction Agent",
				AgentType:   AgentAI,
				Priority:    "high",
			},
		}
	case EventExtractionCompleted:
		return []TaskSpec{
			{
				Kind:        "appointment_scheduling",
				Title:       fmt.Sprintf("Schedule initial consultation for %s", patientName),
				Description: "Contact the patient and book the first consultation slot.",
				AssignedTo:  "Care Coordinator",
				AgentType:   AgentHuman,
				Priority:    "high",
			},
		}
	case EventAppointmentCompleted:
		return []TaskSpec{
			{
				Kind:        "treatment_plan",
				Title:       fmt.Sprintf("Prepare treatment plan for %s", patientName),
				Description: "Draft the treatment plan from the consultation outcome.",
				AssignedTo:  "Dr. James O'Brien",
				AgentType:   AgentHuman,
				Priority:    "high",
			},
			{
				Kind:        KindInsuranceVerification,
				Title:       fmt.Sprintf("Verify insurance coverage for %s", patientName),
				Description: "Confirm eligibility and benefits with the payer.",
				AssignedTo:  "Insurance Verification Agent",
				AgentType:   AgentAI,
				Priority:    "high",
			},
		}
	case EventInsuranceVerified:
		return []TaskSpec{
			{
				Kind:        "claim_tracking",
				Title:       fmt.Sprintf("Track insurance claim for %s", patientName),
				Description: "Monitor the submitted claim and surface payer status changes.",
				AssignedTo:  "Claim Status Checker",
				AgentType:   AgentAI,
				Priority:    "medium",
			},
		}
	case EventExtractionLowConfidence:
		return []TaskSpec{
			{
				Kind:        "document_review",
				Title:       "Verify Medical History Extraction",
				Description: fmt.Sprintf("Extraction confidence fell below threshold for %s; review the flagged fields.", patientName),
				AssignedTo:  "Dr. James O'Brien",
				AgentType:   AgentHuman,
				Priority:    "high",
			},
		}
	case EventClaimDenied:
		return []TaskSpec{
			{
				Kind:        "claim_followup",
				Title:       fmt.Sprintf("Follow up on denied claim for %s", patientName),
				Description: "Review the denial reason and prepare an appeal or patient outreach.",
				AssignedTo:  "Care Coordinator",
				AgentType:   AgentHuman,
				Priority:    "urgent",
			},
		}
	default:
		return nil
	}
}
