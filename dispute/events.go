package dispute

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names an entry of the case audit log.
type EventKind string

const (
	EventCaseOpened           EventKind = "CASE_OPENED"
	EventCaseAdvanced         EventKind = "CASE_ADVANCED"
	EventDeadlineExtended     EventKind = "DEADLINE_EXTENDED"
	EventDeadlineExpired      EventKind = "DEADLINE_EXPIRED"
	EventArbitrationRequested EventKind = "ARBITRATION_REQUESTED"
	EventArbitrationAssigned  EventKind = "ARBITRATION_ASSIGNED"
	EventArbitrationDecided   EventKind = "ARBITRATION_DECIDED"
	EventArbitrationCancelled EventKind = "ARBITRATION_CANCELLED"
)

// Notifiable reports whether the event is forwarded to the notification dispatcher.
func (k EventKind) Notifiable() bool {
	switch k {
	case EventCaseAdvanced, EventDeadlineExpired, EventArbitrationDecided:
		return true
	}
	return false
}

// Topic is the outbound topic name for the event.
func (k EventKind) Topic() string {
	switch k {
	case EventCaseAdvanced:
		return "dispute.case_advanced"
	case EventDeadlineExpired:
		return "dispute.deadline_expired"
	case EventArbitrationDecided:
		return "dispute.arbitration_decided"
	}
	return "dispute.audit"
}

// Event is an immutable audit log entry keyed by case.
type Event struct {
	ID      string
	CaseID  string
	Kind    EventKind
	Version int64
	At      time.Time
	Payload map[string]any
}

func newEvent(caseID string, kind EventKind, version int64, at time.Time, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:      uuid.NewString(),
		CaseID:  caseID,
		Kind:    kind,
		Version: version,
		At:      at,
		Payload: payload,
	}
}
