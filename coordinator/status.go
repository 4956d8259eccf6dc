package coordinator

import (
	"context"
	"time"

	"disputeflow/arbitration"
	"disputeflow/deadline"
	"disputeflow/dispute"
	"disputeflow/workflow"
)

// CaseStatus is a derived view of a case at one instant. Nothing in it is
// stored.
type CaseStatus struct {
	Case              *dispute.Case
	AsOf              time.Time
	Deadline          *deadline.Snapshot
	AllowedNext       []dispute.Phase
	ActiveArbitration *dispute.Arbitration
	// LastDecision is the most recent DECIDED request, if any.
	LastDecision *dispute.Arbitration
	Appealable   bool
	Allocation   *arbitration.Allocation
}

func (s *Coordinator) Status(ctx context.Context, caseID string) (CaseStatus, error) {
	c, err := s.Get(ctx, caseID)
	if err != nil {
		return CaseStatus{}, err
	}
	now := s.clock.Now()

	st := CaseStatus{
		Case:              c,
		AsOf:              now,
		AllowedNext:       workflow.AllowedNext(c.Phase),
		ActiveArbitration: c.ActiveArbitration(),
	}
	if c.Window != nil {
		snap := deadline.Status(*c.Window, now)
		st.Deadline = &snap
	}
	for i := len(c.Arbitrations) - 1; i >= 0; i-- {
		if c.Arbitrations[i].Status == dispute.ArbitrationDecided {
			st.LastDecision = &c.Arbitrations[i]
			break
		}
	}
	if st.LastDecision != nil {
		st.Appealable = arbitration.CanStillAppeal(st.LastDecision, now)
		if alloc, err := arbitration.AllocationFor(st.LastDecision); err == nil {
			st.Allocation = &alloc
		}
	}
	return st, nil
}
