// Package arbitration runs the arbitration sub-process of a dispute case:
// request, assignment, decision, and the cost and fee rules around them.
package arbitration

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"disputeflow/dispute"
)

// DefaultAppealWindowDays is the time a party has to appeal a decision.
const DefaultAppealWindowDays = 30

// Engine applies the arbitration state machine to a case.
type Engine struct {
	appealWindowDays int
}

func NewEngine(appealWindowDays int) *Engine {
	if appealWindowDays <= 0 {
		appealWindowDays = DefaultAppealWindowDays
	}
	return &Engine{appealWindowDays: appealWindowDays}
}

// Find returns the request with id on c.
func Find(c *dispute.Case, id string) (*dispute.Arbitration, error) {
	req := c.Arbitration(id)
	if req == nil {
		return nil, &dispute.InvalidArgumentError{Field: "arbitration_id", Reason: "no request " + id + " on case " + c.ID}
	}
	return req, nil
}

// Request opens a new arbitration request on c. The cost is estimated from
// the disputed amount and priority.
func (e *Engine) Request(c *dispute.Case, by dispute.Party, priority dispute.Priority, now time.Time) (*dispute.Arbitration, error) {
	if c.Finalized() {
		return nil, dispute.ErrAlreadyFinalized
	}
	if !by.Valid() {
		return nil, &dispute.InvalidArgumentError{Field: "requested_by", Reason: "unknown party " + string(by)}
	}
	if priority == "" {
		priority = dispute.PriorityNormal
	}
	cost, err := EstimateCost(c.DisputedAmount, priority)
	if err != nil {
		return nil, err
	}
	if c.ActiveArbitration() != nil {
		return nil, dispute.ErrDuplicateActiveArbitration
	}

	c.Touch(now)
	c.Arbitrations = append(c.Arbitrations, dispute.Arbitration{
		ID:          uuid.NewString(),
		CaseID:      c.ID,
		RequestedBy: by,
		Priority:    priority,
		Status:      dispute.ArbitrationRequested,
		Cost:        cost,
		RequestedAt: now,
	})
	req := &c.Arbitrations[len(c.Arbitrations)-1]
	c.Record(dispute.EventArbitrationRequested, now, map[string]any{
		"arbitration_id": req.ID,
		"requested_by":   string(by),
		"priority":       string(priority),
		"estimated_cost": cost.StringFixed(2),
	})
	return req, nil
}

// Assign hands a REQUESTED request to an arbitrator.
func (e *Engine) Assign(c *dispute.Case, req *dispute.Arbitration, now time.Time) error {
	if c.Finalized() {
		return dispute.ErrAlreadyFinalized
	}
	if req.Status != dispute.ArbitrationRequested {
		return &dispute.InvalidStateError{Action: "assign", Status: req.Status}
	}
	c.Touch(now)
	t := now
	req.Status = dispute.ArbitrationInProgress
	req.AssignedAt = &t
	c.Record(dispute.EventArbitrationAssigned, now, map[string]any{"arbitration_id": req.ID})
	return nil
}

// Ruling carries the arbitrator's decision.
type Ruling struct {
	Decision dispute.Decision
	Motives  string
	FeeRule  dispute.FeeRule
	// FinalCost replaces the estimate when set.
	FinalCost *decimal.Decimal
}

// Decide records the ruling. A decided request can never be decided again.
func (e *Engine) Decide(c *dispute.Case, req *dispute.Arbitration, r Ruling, now time.Time) error {
	switch req.Status {
	case dispute.ArbitrationDecided:
		return dispute.ErrAlreadyDecided
	case dispute.ArbitrationRequested, dispute.ArbitrationInProgress:
	default:
		return &dispute.InvalidStateError{Action: "decide", Status: req.Status}
	}
	if c.Finalized() {
		return dispute.ErrAlreadyFinalized
	}
	if !r.Decision.Valid() {
		return &dispute.InvalidArgumentError{Field: "decision", Reason: "unknown value " + string(r.Decision)}
	}
	if !r.FeeRule.Valid() {
		return &dispute.InvalidArgumentError{Field: "fee_rule", Reason: "unknown value " + string(r.FeeRule)}
	}
	cost := req.Cost
	if r.FinalCost != nil {
		if r.FinalCost.IsNegative() {
			return &dispute.InvalidArgumentError{Field: "final_cost", Reason: "must not be negative"}
		}
		cost = r.FinalCost.Round(2)
	}
	payer, err := PayerFor(r.FeeRule, r.Decision)
	if err != nil {
		return err
	}

	c.Touch(now)
	decidedAt := now
	appeal := now.AddDate(0, 0, e.appealWindowDays)
	req.Status = dispute.ArbitrationDecided
	req.Decision = r.Decision
	req.FeeRule = r.FeeRule
	req.Motives = strings.TrimSpace(r.Motives)
	req.Cost = cost
	req.DecidedAt = &decidedAt
	req.AppealDeadline = &appeal
	c.Record(dispute.EventArbitrationDecided, now, map[string]any{
		"arbitration_id":  req.ID,
		"decision":        string(r.Decision),
		"fee_rule":        string(r.FeeRule),
		"payer":           string(payer),
		"cost":            cost.StringFixed(2),
		"appeal_deadline": appeal,
	})
	return nil
}

// Cancel withdraws a request that has not been decided.
func (e *Engine) Cancel(c *dispute.Case, req *dispute.Arbitration, reason string, now time.Time) error {
	if c.Finalized() {
		return dispute.ErrAlreadyFinalized
	}
	if req.Status.Terminal() {
		return &dispute.InvalidStateError{Action: "cancel", Status: req.Status}
	}
	c.Touch(now)
	req.MarkCancelled(now)
	c.Record(dispute.EventArbitrationCancelled, now, map[string]any{
		"arbitration_id": req.ID,
		"reason":         reason,
	})
	return nil
}

// CanStillAppeal reports whether the decision is still open to appeal at now.
func CanStillAppeal(req *dispute.Arbitration, now time.Time) bool {
	return req != nil &&
		req.Status == dispute.ArbitrationDecided &&
		req.AppealDeadline != nil &&
		now.Before(*req.AppealDeadline)
}
