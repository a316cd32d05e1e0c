package workflow

// transition is a (current status, event) pair.
type transition struct {
	from Status
	ev   EventKind
}

// transitions is the authoritative status ladder. Pairs absent from this
// table are no-ops: delivering an event to a patient in the wrong state
// never errors and never moves them.
var transitions = map[transition]Status{
	{StatusIntakeInProgress, EventIntakeCompleted}:              StatusIntakeDone,
	{StatusIntakeInProgress, EventFirstDocumentUploaded}:        StatusDocCollectionProgress,
	{StatusIntakeDone, EventFirstDocumentUploaded}:              StatusDocCollectionProgress,
	{StatusDocCollectionProgress, EventDocsAndConsentsComplete}: StatusDocCollectionDone,
	{StatusDocCollectionDone, EventExtractionCompleted}:         StatusAwaitingResponse,
	{StatusAwaitingResponse, EventAppointmentScheduled}:         StatusConsultScheduled,
	{StatusConsultScheduled, EventAppointmentCompleted}:         StatusConsultComplete,
}

// Next returns the status a patient moves to when ev arrives in state
// current. The second return is false when the pair is unmodeled and the
// status must not change.
func Next(current Status, ev EventKind) (Status, bool) {
	next, ok := transitions[transition{current, ev}]
	return next, ok
}

// EventForManualStatus maps a manually assigned status to the lifecycle
// event it implies, so a PATCH that sets "Intake Done" drives the same
// task emission as the intake flow finishing on its own.
func EventForManualStatus(s Status) (EventKind, bool) {
	switch s {
	case StatusIntakeDone:
		return EventIntakeCompleted, true
	case StatusDocCollectionDone:
		return EventDocsAndConsentsComplete, true
	case StatusAwaitingResponse:
		return EventExtractionCompleted, true
	case StatusConsultComplete:
		return EventAppointmentCompleted, true
	default:
		return "", false
	}
}
