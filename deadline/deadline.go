// Package deadline tracks the per-phase deadline window of a dispute case.
//
// Every function here is a pure function of a window and an instant supplied
// by the caller; nothing reads the wall clock and nothing is cached on the
// window, so the same inputs always give the same answer.
package deadline

import (
	"time"

	"github.com/google/uuid"

	"disputeflow/dispute"
)

const day = 24 * time.Hour

// Open starts a fresh ACTIVE window for phase at now, due after days calendar days.
func Open(caseID string, phase dispute.Phase, now time.Time, days int) (dispute.Window, error) {
	if days <= 0 {
		return dispute.Window{}, &dispute.InvalidArgumentError{Field: "duration_days", Reason: "must be positive"}
	}
	if !phase.Valid() || phase == dispute.PhaseFinalized {
		return dispute.Window{}, &dispute.InvalidArgumentError{Field: "phase", Reason: "no deadline window for " + string(phase)}
	}
	return dispute.Window{
		ID:      uuid.NewString(),
		CaseID:  caseID,
		Phase:   phase,
		StartAt: now,
		DueAt:   now.AddDate(0, 0, days),
		Status:  dispute.WindowActive,
	}, nil
}

// Extend pushes the due date back by extraDays and marks the window PROLONGED.
// Expired or closed windows cannot be extended; the case must move to a new
// phase to get a new window.
func Extend(w *dispute.Window, extraDays int, reason string) error {
	if w == nil {
		return &dispute.InvalidArgumentError{Field: "window", Reason: "no open deadline window"}
	}
	if extraDays <= 0 {
		return &dispute.InvalidArgumentError{Field: "extra_days", Reason: "must be positive"}
	}
	if w.ClosedAt != nil {
		return &dispute.InvalidArgumentError{Field: "window", Reason: "window is closed"}
	}
	if w.Status == dispute.WindowExpired {
		return &dispute.InvalidArgumentError{Field: "window", Reason: "window expired; advance the phase to open a new one"}
	}
	w.DueAt = w.DueAt.AddDate(0, 0, extraDays)
	w.ExtensionDaysTotal += extraDays
	w.ExtensionReason = reason
	w.Status = dispute.WindowProlonged
	return nil
}

// SweepExpire marks an open window EXPIRED once now is past its due date and
// reports whether it changed anything. Repeated calls are no-ops.
func SweepExpire(w *dispute.Window, now time.Time) bool {
	if !w.Open() {
		return false
	}
	if !now.After(w.DueAt) {
		return false
	}
	w.Status = dispute.WindowExpired
	return true
}

// Close supersedes the window. Closed windows are history and never change again.
func Close(w *dispute.Window, now time.Time) {
	if w == nil || w.ClosedAt != nil {
		return
	}
	t := now
	w.ClosedAt = &t
}

// Remaining is the time left before a window is due, truncated toward zero.
type Remaining struct {
	// Days is the number of whole days left; negative once overdue.
	Days int
	// Hours is the total number of whole hours left; negative once overdue.
	Hours int
	// Overdue is true iff now is past the due date.
	Overdue bool
}

// Negative reports whether the due date has passed.
func (r Remaining) Negative() bool {
	return r.Overdue
}

// RemainingAt computes DueAt - now.
func RemainingAt(w dispute.Window, now time.Time) Remaining {
	d := w.DueAt.Sub(now)
	return Remaining{
		Days:    int(d / day),
		Hours:   int(d / time.Hour),
		Overdue: now.After(w.DueAt),
	}
}

// ElapsedPercentage returns how much of the window has been used, in [0,100],
// measured in whole minutes.
func ElapsedPercentage(w dispute.Window, now time.Time) float64 {
	if now.Before(w.StartAt) {
		return 0
	}
	if now.After(w.DueAt) {
		return 100
	}
	total := int64(w.DueAt.Sub(w.StartAt) / time.Minute)
	if total <= 0 {
		return 100
	}
	elapsed := int64(now.Sub(w.StartAt) / time.Minute)
	pct := float64(elapsed) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
