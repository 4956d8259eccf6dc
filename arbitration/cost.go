package arbitration

import (
	"github.com/shopspring/decimal"

	"disputeflow/dispute"
)

var (
	// MinCost and MaxCost bound every estimate.
	MinCost = decimal.NewFromInt(500)
	MaxCost = decimal.NewFromInt(50000)

	costRates = map[dispute.Priority]decimal.Decimal{
		dispute.PriorityUrgent:   decimal.RequireFromString("0.05"),
		dispute.PriorityCritical: decimal.RequireFromString("0.04"),
		dispute.PriorityHigh:     decimal.RequireFromString("0.03"),
		dispute.PriorityNormal:   decimal.RequireFromString("0.02"),
		dispute.PriorityLow:      decimal.RequireFromString("0.015"),
	}

	two = decimal.NewFromInt(2)
)

// EstimateCost returns the arbitration fee for a disputed amount: a
// priority-dependent percentage clamped to [MinCost, MaxCost], rounded half-up
// to cents.
func EstimateCost(amount decimal.Decimal, priority dispute.Priority) (decimal.Decimal, error) {
	rate, ok := costRates[priority]
	if !ok {
		return decimal.Zero, &dispute.InvalidArgumentError{Field: "priority", Reason: "unknown value " + string(priority)}
	}
	if !amount.IsPositive() {
		return decimal.Zero, &dispute.InvalidArgumentError{Field: "disputed_amount", Reason: "must be greater than zero"}
	}
	raw := amount.Mul(rate)
	switch {
	case raw.LessThan(MinCost):
		raw = MinCost
	case raw.GreaterThan(MaxCost):
		raw = MaxCost
	}
	return raw.Round(2), nil
}

// Payer is who bears the arbitration cost.
type Payer string

const (
	PayerIssuer   Payer = "ISSUER"
	PayerAcquirer Payer = "ACQUIRER"
	PayerSplit    Payer = "SPLIT"
)

// PayerFor resolves a fee rule against a decision. LOSER charges the party
// the decision went against.
func PayerFor(rule dispute.FeeRule, decision dispute.Decision) (Payer, error) {
	switch rule {
	case dispute.FeeIssuer:
		return PayerIssuer, nil
	case dispute.FeeAcquirer:
		return PayerAcquirer, nil
	case dispute.FeeSplit:
		return PayerSplit, nil
	case dispute.FeeLoser:
		if !decision.Valid() {
			return "", &dispute.InvalidArgumentError{Field: "decision", Reason: "LOSER rule needs a decision"}
		}
		return Payer(decision.Winner().Opponent()), nil
	}
	return "", &dispute.InvalidArgumentError{Field: "fee_rule", Reason: "unknown value " + string(rule)}
}

// Allocation is what each institution owes for one arbitration.
type Allocation struct {
	Payer    Payer
	Issuer   decimal.Decimal
	Acquirer decimal.Decimal
}

// Allocate splits cost according to the fee rule. Under SPLIT each side owes
// half the cost, rounded half-up to cents.
func Allocate(rule dispute.FeeRule, decision dispute.Decision, cost decimal.Decimal) (Allocation, error) {
	payer, err := PayerFor(rule, decision)
	if err != nil {
		return Allocation{}, err
	}
	a := Allocation{Payer: payer, Issuer: decimal.Zero, Acquirer: decimal.Zero}
	switch payer {
	case PayerIssuer:
		a.Issuer = cost.Round(2)
	case PayerAcquirer:
		a.Acquirer = cost.Round(2)
	case PayerSplit:
		half := cost.Div(two).Round(2)
		a.Issuer = half
		a.Acquirer = half
	}
	return a, nil
}

// AllocationFor is Allocate applied to a decided request.
func AllocationFor(req *dispute.Arbitration) (Allocation, error) {
	if req == nil || req.Status != dispute.ArbitrationDecided {
		status := dispute.ArbitrationStatus("")
		if req != nil {
			status = req.Status
		}
		return Allocation{}, &dispute.InvalidStateError{Action: "allocate", Status: status}
	}
	return Allocate(req.FeeRule, req.Decision, req.Cost)
}
