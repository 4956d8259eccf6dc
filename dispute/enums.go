package dispute

import "strings"

// Phase is the position of a case in the chargeback workflow.
type Phase string

const (
	PhaseInitial        Phase = "INITIAL"
	PhaseRepresentation Phase = "REPRESENTATION"
	PhasePreArbitration Phase = "PRE_ARBITRATION"
	PhaseArbitration    Phase = "ARBITRATION"
	PhaseFinalized      Phase = "FINALIZED"
)

// Phases lists every phase in workflow order.
var Phases = []Phase{PhaseInitial, PhaseRepresentation, PhasePreArbitration, PhaseArbitration, PhaseFinalized}

func (p Phase) Valid() bool {
	switch p {
	case PhaseInitial, PhaseRepresentation, PhasePreArbitration, PhaseArbitration, PhaseFinalized:
		return true
	}
	return false
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(normalize(s))
	if !p.Valid() {
		return "", invalidEnum("phase", s)
	}
	return p, nil
}

// Party identifies one of the two institutions in a dispute.
type Party string

const (
	PartyIssuer   Party = "ISSUER"
	PartyAcquirer Party = "ACQUIRER"
)

func (p Party) Valid() bool {
	return p == PartyIssuer || p == PartyAcquirer
}

// Opponent returns the other institution.
func (p Party) Opponent() Party {
	if p == PartyIssuer {
		return PartyAcquirer
	}
	return PartyIssuer
}

func ParseParty(s string) (Party, error) {
	p := Party(normalize(s))
	if !p.Valid() {
		return "", invalidEnum("party", s)
	}
	return p, nil
}

// WindowStatus tracks a deadline window.
type WindowStatus string

const (
	WindowActive    WindowStatus = "ACTIVE"
	WindowProlonged WindowStatus = "PROLONGED"
	WindowExpired   WindowStatus = "EXPIRED"
)

func (s WindowStatus) Valid() bool {
	switch s {
	case WindowActive, WindowProlonged, WindowExpired:
		return true
	}
	return false
}

func ParseWindowStatus(s string) (WindowStatus, error) {
	ws := WindowStatus(normalize(s))
	if !ws.Valid() {
		return "", invalidEnum("window_status", s)
	}
	return ws, nil
}

// ArbitrationStatus is the lifecycle of an arbitration request.
type ArbitrationStatus string

const (
	ArbitrationRequested  ArbitrationStatus = "REQUESTED"
	ArbitrationInProgress ArbitrationStatus = "IN_PROGRESS"
	ArbitrationDecided    ArbitrationStatus = "DECIDED"
	ArbitrationCancelled  ArbitrationStatus = "CANCELLED"
)

func (s ArbitrationStatus) Valid() bool {
	switch s {
	case ArbitrationRequested, ArbitrationInProgress, ArbitrationDecided, ArbitrationCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ArbitrationStatus) Terminal() bool {
	return s == ArbitrationDecided || s == ArbitrationCancelled
}

func ParseArbitrationStatus(s string) (ArbitrationStatus, error) {
	as := ArbitrationStatus(normalize(s))
	if !as.Valid() {
		return "", invalidEnum("arbitration_status", s)
	}
	return as, nil
}

// Decision is the arbitrator's ruling.
type Decision string

const (
	DecisionFavorableIssuer   Decision = "FAVORABLE_ISSUER"
	DecisionFavorableAcquirer Decision = "FAVORABLE_ACQUIRER"
)

func (d Decision) Valid() bool {
	return d == DecisionFavorableIssuer || d == DecisionFavorableAcquirer
}

// Winner returns the party the decision favours.
func (d Decision) Winner() Party {
	if d == DecisionFavorableIssuer {
		return PartyIssuer
	}
	return PartyAcquirer
}

func ParseDecision(s string) (Decision, error) {
	d := Decision(normalize(s))
	if !d.Valid() {
		return "", invalidEnum("decision", s)
	}
	return d, nil
}

// FeeRule decides who bears the arbitration cost.
type FeeRule string

const (
	FeeLoser    FeeRule = "LOSER"
	FeeIssuer   FeeRule = "ISSUER"
	FeeAcquirer FeeRule = "ACQUIRER"
	FeeSplit    FeeRule = "SPLIT"
)

func (r FeeRule) Valid() bool {
	switch r {
	case FeeLoser, FeeIssuer, FeeAcquirer, FeeSplit:
		return true
	}
	return false
}

func ParseFeeRule(s string) (FeeRule, error) {
	r := FeeRule(normalize(s))
	if !r.Valid() {
		return "", invalidEnum("fee_rule", s)
	}
	return r, nil
}

// Priority drives the arbitration cost percentage.
type Priority string

const (
	PriorityUrgent   Priority = "URGENT"
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// ParsePriority accepts an empty string as NORMAL.
func ParsePriority(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	p := Priority(normalize(s))
	if !p.Valid() {
		return "", invalidEnum("priority", s)
	}
	return p, nil
}

// Outcome records how a finalized case ended.
type Outcome string

const (
	OutcomeSettled    Outcome = "SETTLED"
	OutcomeArbitrated Outcome = "ARBITRATED"
)

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func invalidEnum(field, value string) error {
	return &InvalidArgumentError{Field: field, Reason: "unknown value " + strings.TrimSpace(value)}
}
