// Package notify publishes case events to the outside world. Every dispatcher
// is fire-and-forget: a failed publish is logged and counted, never returned
// to the operation that produced the event.
package notify

import (
	"encoding/json"
	"time"

	"disputeflow/dispute"
	"disputeflow/logging"
)

// Envelope is the wire form of an event.
type Envelope struct {
	ID      string         `json:"id"`
	CaseID  string         `json:"case_id"`
	Kind    string         `json:"kind"`
	Version int64          `json:"version"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload"`
}

func Encode(e dispute.Event) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:      e.ID,
		CaseID:  e.CaseID,
		Kind:    string(e.Kind),
		Version: e.Version,
		At:      e.At.UTC(),
		Payload: e.Payload,
	})
}

// LogDispatcher writes each event to the log. It is the default when no
// broker is configured.
type LogDispatcher struct {
	log logging.Logger
}

func NewLogDispatcher(log logging.Logger) *LogDispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &LogDispatcher{log: log.Named("notify")}
}

func (d *LogDispatcher) Dispatch(e dispute.Event) {
	d.log.Info("case event",
		logging.String("topic", e.Kind.Topic()),
		logging.String("event_id", e.ID),
		logging.String("case_id", e.CaseID),
		logging.String("kind", string(e.Kind)),
		logging.Int64("version", e.Version),
		logging.Any("payload", e.Payload),
	)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Dispatch(dispute.Event) {}
