// Package workflow owns the phase state machine of a dispute case.
package workflow

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"disputeflow/deadline"
	"disputeflow/dispute"
)

// maxAmount bounds disputed amounts to what numeric(18,2) can hold.
var maxAmount = decimal.New(1, 16)

// allowedNext is the strict transition table. FINALIZED has no successors.
var allowedNext = map[dispute.Phase][]dispute.Phase{
	dispute.PhaseInitial:        {dispute.PhaseRepresentation},
	dispute.PhaseRepresentation: {dispute.PhasePreArbitration, dispute.PhaseFinalized},
	dispute.PhasePreArbitration: {dispute.PhaseArbitration, dispute.PhaseFinalized},
	dispute.PhaseArbitration:    {dispute.PhaseFinalized},
	dispute.PhaseFinalized:      nil,
}

// AllowedNext returns the phases reachable from p in one step.
func AllowedNext(p dispute.Phase) []dispute.Phase {
	next := allowedNext[p]
	out := make([]dispute.Phase, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to dispute.Phase) bool {
	for _, p := range allowedNext[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Durations holds the default deadline length, in days, of each non-final phase.
type Durations struct {
	Initial        int
	Representation int
	PreArbitration int
	Arbitration    int
}

// DefaultDurations are used for any phase left at zero.
var DefaultDurations = Durations{
	Initial:        10,
	Representation: 30,
	PreArbitration: 30,
	Arbitration:    45,
}

// For returns the configured days for phase, falling back to the default.
func (d Durations) For(p dispute.Phase) int {
	var days, fallback int
	switch p {
	case dispute.PhaseInitial:
		days, fallback = d.Initial, DefaultDurations.Initial
	case dispute.PhaseRepresentation:
		days, fallback = d.Representation, DefaultDurations.Representation
	case dispute.PhasePreArbitration:
		days, fallback = d.PreArbitration, DefaultDurations.PreArbitration
	case dispute.PhaseArbitration:
		days, fallback = d.Arbitration, DefaultDurations.Arbitration
	default:
		return 0
	}
	if days <= 0 {
		return fallback
	}
	return days
}

// Workflow validates and executes phase changes.
type Workflow struct {
	durations Durations
}

func New(d Durations) *Workflow {
	return &Workflow{durations: d}
}

// OpenParams describes a new case.
type OpenParams struct {
	DisputeID      string
	DisputedAmount decimal.Decimal
	ContestReason  string
}

// Open creates a case in INITIAL with its first deadline window.
func (w *Workflow) Open(params OpenParams, now time.Time) (*dispute.Case, error) {
	if strings.TrimSpace(params.DisputeID) == "" {
		return nil, &dispute.InvalidArgumentError{Field: "dispute_id", Reason: "required"}
	}
	if !params.DisputedAmount.IsPositive() {
		return nil, &dispute.InvalidArgumentError{Field: "disputed_amount", Reason: "must be greater than zero"}
	}
	if !params.DisputedAmount.Equal(params.DisputedAmount.Round(2)) {
		return nil, &dispute.InvalidArgumentError{Field: "disputed_amount", Reason: "at most two decimal places"}
	}
	if params.DisputedAmount.GreaterThanOrEqual(maxAmount) {
		return nil, &dispute.InvalidArgumentError{Field: "disputed_amount", Reason: "exceeds " + maxAmount.String()}
	}
	if strings.TrimSpace(params.ContestReason) == "" {
		return nil, &dispute.InvalidArgumentError{Field: "contest_reason", Reason: "required"}
	}

	c := &dispute.Case{
		ID:             uuid.NewString(),
		DisputeID:      params.DisputeID,
		Phase:          dispute.PhaseInitial,
		DisputedAmount: params.DisputedAmount,
		ContestReason:  strings.TrimSpace(params.ContestReason),
		CanEscalate:    true,
		Version:        1,
		LastActionAt:   now,
		CreatedAt:      now,
	}
	win, err := deadline.Open(c.ID, dispute.PhaseInitial, now, w.durations.For(dispute.PhaseInitial))
	if err != nil {
		return nil, err
	}
	c.Window = &win
	c.Record(dispute.EventCaseOpened, now, map[string]any{
		"dispute_id":      c.DisputeID,
		"disputed_amount": c.DisputedAmount.StringFixed(2),
		"contest_reason":  c.ContestReason,
		"due_at":          win.DueAt,
	})
	return c, nil
}

// Transition moves c to target. On failure c is left untouched.
func (w *Workflow) Transition(c *dispute.Case, target dispute.Phase, now time.Time) error {
	if c.Finalized() {
		return dispute.ErrAlreadyFinalized
	}
	if !CanTransition(c.Phase, target) {
		return &dispute.InvalidTransitionError{From: c.Phase, To: target}
	}

	var next *dispute.Window
	if target != dispute.PhaseFinalized {
		win, err := deadline.Open(c.ID, target, now, w.durations.For(target))
		if err != nil {
			return err
		}
		next = &win
	}

	from := c.Phase
	c.Touch(now)
	c.Phase = target
	if c.Window != nil {
		deadline.Close(c.Window, now)
		c.WindowHistory = append(c.WindowHistory, *c.Window)
	}
	c.Window = next

	payload := map[string]any{"from": string(from), "to": string(target)}
	if next != nil {
		payload["due_at"] = next.DueAt
	}

	if target == dispute.PhaseFinalized {
		w.finalize(c, now)
		payload["outcome"] = string(c.Outcome)
	}
	c.Record(dispute.EventCaseAdvanced, now, payload)
	return nil
}

// finalize closes everything still open on the case.
func (w *Workflow) finalize(c *dispute.Case, now time.Time) {
	c.CanEscalate = false
	if active := c.ActiveArbitration(); active != nil {
		active.MarkCancelled(now)
		c.Record(dispute.EventArbitrationCancelled, now, map[string]any{
			"arbitration_id": active.ID,
			"reason":         "case finalized",
		})
	}
	c.Outcome = dispute.OutcomeSettled
	for i := range c.Arbitrations {
		if c.Arbitrations[i].Status == dispute.ArbitrationDecided {
			c.Outcome = dispute.OutcomeArbitrated
			break
		}
	}
}
