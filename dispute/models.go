package dispute

import (
	"time"

	"github.com/shopspring/decimal"
)

// Case is one chargeback workflow instance. It is owned by exactly one
// dispute and owns its deadline windows and arbitration requests.
type Case struct {
	ID             string
	DisputeID      string
	Phase          Phase
	DisputedAmount decimal.Decimal
	ContestReason  string
	CanEscalate    bool
	Outcome        Outcome
	Version        int64
	LastActionAt   time.Time
	CreatedAt      time.Time

	// Window is the deadline window of the current phase; nil once finalized.
	Window        *Window
	WindowHistory []Window
	Arbitrations  []Arbitration

	// Pending holds audit events appended since the case was loaded. Stores
	// persist them on Save; they are never part of the case snapshot.
	Pending []Event `json:"-"`
}

// Window tracks the deadline of one phase of a case.
type Window struct {
	ID                 string
	CaseID             string
	Phase              Phase
	StartAt            time.Time
	DueAt              time.Time
	ExtensionDaysTotal int
	ExtensionReason    string
	Status             WindowStatus
	ClosedAt           *time.Time
}

// Open reports whether the window still counts down: not superseded and not expired.
func (w *Window) Open() bool {
	return w != nil && w.ClosedAt == nil && (w.Status == WindowActive || w.Status == WindowProlonged)
}

// Arbitration is a request for a binding third-party decision.
type Arbitration struct {
	ID             string
	CaseID         string
	RequestedBy    Party
	Priority       Priority
	Status         ArbitrationStatus
	Decision       Decision
	FeeRule        FeeRule
	Motives        string
	Cost           decimal.Decimal
	RequestedAt    time.Time
	AssignedAt     *time.Time
	DecidedAt      *time.Time
	CancelledAt    *time.Time
	AppealDeadline *time.Time
}

// Active reports whether the request still blocks a new one.
func (a *Arbitration) Active() bool {
	return a != nil && !a.Status.Terminal()
}

// ActiveArbitration returns the single non-terminal request, or nil.
func (c *Case) ActiveArbitration() *Arbitration {
	for i := range c.Arbitrations {
		if c.Arbitrations[i].Active() {
			return &c.Arbitrations[i]
		}
	}
	return nil
}

// Arbitration returns the request with the given id, or nil.
func (c *Case) Arbitration(id string) *Arbitration {
	for i := range c.Arbitrations {
		if c.Arbitrations[i].ID == id {
			return &c.Arbitrations[i]
		}
	}
	return nil
}

// Finalized reports whether the case reached its terminal phase.
func (c *Case) Finalized() bool {
	return c.Phase == PhaseFinalized
}

// Touch stamps a mutating operation: bumps the version and records the action time.
func (c *Case) Touch(now time.Time) {
	c.Version++
	c.LastActionAt = now
}

// Record appends an audit event stamped with the current version.
func (c *Case) Record(kind EventKind, at time.Time, payload map[string]any) {
	c.Pending = append(c.Pending, newEvent(c.ID, kind, c.Version, at, payload))
}

// TakePending returns and clears the pending events.
func (c *Case) TakePending() []Event {
	out := c.Pending
	c.Pending = nil
	return out
}

// MarkCancelled moves a non-terminal request to CANCELLED. Callers check the
// state machine first; this only stamps the fields.
func (a *Arbitration) MarkCancelled(now time.Time) {
	t := now
	a.Status = ArbitrationCancelled
	a.CancelledAt = &t
}
