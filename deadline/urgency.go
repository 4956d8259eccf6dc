package deadline

import (
	"time"

	"disputeflow/dispute"
)

// Urgency classifies how close a deadline is to being missed.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyUrgent   Urgency = "URGENT"
	UrgencyElevated Urgency = "ELEVATED"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyNormal   Urgency = "NORMAL"
)

// rank orders tiers from least to most pressing.
func (u Urgency) rank() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyUrgent:
		return 3
	case UrgencyElevated:
		return 2
	case UrgencyMedium:
		return 1
	}
	return 0
}

// AtLeast reports whether u is as pressing as other or more.
func (u Urgency) AtLeast(other Urgency) bool {
	return u.rank() >= other.rank()
}

// Tier maps whole days remaining to an urgency tier. Each boundary belongs to
// the more pressing tier: 0 and below is CRITICAL, 1 URGENT, 2..3 ELEVATED,
// 4..7 MEDIUM, above 7 NORMAL.
func Tier(remainingDays int) Urgency {
	switch {
	case remainingDays <= 0:
		return UrgencyCritical
	case remainingDays == 1:
		return UrgencyUrgent
	case remainingDays <= 3:
		return UrgencyElevated
	case remainingDays <= 7:
		return UrgencyMedium
	default:
		return UrgencyNormal
	}
}

// Snapshot is the derived, read-only view of a window at an instant.
type Snapshot struct {
	Phase              dispute.Phase
	Status             dispute.WindowStatus
	DueAt              time.Time
	Remaining          Remaining
	ElapsedPercentage  float64
	Urgency            Urgency
	NeedsAttention     bool
	ExtensionDaysTotal int
}

// Status computes the snapshot of w at now. Nothing is written back to w.
func Status(w dispute.Window, now time.Time) Snapshot {
	rem := RemainingAt(w, now)
	tier := Tier(rem.Days)
	return Snapshot{
		Phase:              w.Phase,
		Status:             w.Status,
		DueAt:              w.DueAt,
		Remaining:          rem,
		ElapsedPercentage:  ElapsedPercentage(w, now),
		Urgency:            tier,
		NeedsAttention:     tier.AtLeast(UrgencyElevated),
		ExtensionDaysTotal: w.ExtensionDaysTotal,
	}
}
