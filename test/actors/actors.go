// Package actors drives concurrent case traffic through the coordinator for
// the stress suite. Every actor works on a shared set of case IDs and treats
// domain rejections as normal contention.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"disputeflow/arbitration"
	"disputeflow/clock"
	"disputeflow/coordinator"
	"disputeflow/dispute"
	"disputeflow/workflow"
)

// Expected reports whether err is a rejection the workflow is allowed to
// return under contention.
func Expected(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, dispute.ErrConcurrentModification),
		errors.Is(err, dispute.ErrInvalidTransition),
		errors.Is(err, dispute.ErrAlreadyFinalized),
		errors.Is(err, dispute.ErrDuplicateActiveArbitration),
		errors.Is(err, dispute.ErrInvalidState),
		errors.Is(err, dispute.ErrAlreadyDecided),
		errors.Is(err, dispute.ErrInvalidArgument),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// Tolerant wraps an actor step so infrastructure failures (for example a
// backend killed by chaos) are counted instead of stopping the run.
type Tolerant struct {
	Chaos  bool
	OnFail func(error)
}

func (t Tolerant) check(err error) error {
	if Expected(err) {
		return nil
	}
	if t.Chaos {
		if t.OnFail != nil {
			t.OnFail(err)
		}
		return nil
	}
	return err
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

func pick(ids []string) string {
	return ids[rand.Intn(len(ids))]
}

// Advancer moves random cases to a random allowed next phase. Half the calls
// use the version it just read so stale-version rejections are exercised too.
func Advancer(ctx context.Context, co *coordinator.Coordinator, ids []string, tol Tolerant, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := pick(ids)
		c, err := co.Get(ctx, id)
		if err != nil {
			if err := tol.check(err); err != nil {
				return err
			}
			continue
		}
		next := workflow.AllowedNext(c.Phase)
		if len(next) == 0 {
			pause(10, 20)
			continue
		}
		version := coordinator.AnyVersion
		if rand.Intn(2) == 0 {
			version = c.Version
		}
		pause(0, 5)
		_, err = co.Advance(ctx, id, version, next[rand.Intn(len(next))])
		if err := tol.check(err); err != nil {
			return err
		}
		pause(20, 40)
	}
	return nil
}

// Extender pushes deadlines of random cases.
func Extender(ctx context.Context, co *coordinator.Coordinator, ids []string, tol Tolerant, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := co.ExtendDeadline(ctx, pick(ids), coordinator.AnyVersion, 1+rand.Intn(5), "stress extension")
		if err := tol.check(err); err != nil {
			return err
		}
		pause(15, 35)
	}
	return nil
}

var (
	priorities = []dispute.Priority{dispute.PriorityUrgent, dispute.PriorityCritical, dispute.PriorityHigh, dispute.PriorityNormal, dispute.PriorityLow}
	feeRules   = []dispute.FeeRule{dispute.FeeLoser, dispute.FeeIssuer, dispute.FeeAcquirer, dispute.FeeSplit}
	decisions  = []dispute.Decision{dispute.DecisionFavorableIssuer, dispute.DecisionFavorableAcquirer}
)

// Arbitrator requests arbitration on random cases and walks the request
// through assign and either decide or cancel.
func Arbitrator(ctx context.Context, co *coordinator.Coordinator, ids []string, tol Tolerant, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := pick(ids)
		party := dispute.PartyIssuer
		if rand.Intn(2) == 0 {
			party = dispute.PartyAcquirer
		}
		_, req, err := co.RequestArbitration(ctx, id, coordinator.AnyVersion, party, priorities[rand.Intn(len(priorities))])
		if err != nil {
			if err := tol.check(err); err != nil {
				return err
			}
			pause(20, 40)
			continue
		}

		_, err = co.AssignArbitration(ctx, id, coordinator.AnyVersion, req.ID)
		if err := tol.check(err); err != nil {
			return err
		}
		pause(5, 20)

		if rand.Intn(4) == 0 {
			_, err = co.CancelArbitration(ctx, id, coordinator.AnyVersion, req.ID, "withdrawn")
		} else {
			_, err = co.DecideArbitration(ctx, id, coordinator.AnyVersion, req.ID, arbitration.Ruling{
				Decision: decisions[rand.Intn(len(decisions))],
				Motives:  "stress ruling",
				FeeRule:  feeRules[rand.Intn(len(feeRules))],
			})
		}
		if err := tol.check(err); err != nil {
			return err
		}
		pause(30, 60)
	}
	return nil
}

// Sweeper lists open windows and sweeps them, racing the other actors.
func Sweeper(ctx context.Context, co *coordinator.Coordinator, store coordinator.Store, tol Tolerant, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		ids, err := store.ListOpenWindowCases(ctx, 100)
		if err != nil {
			if err := tol.check(err); err != nil {
				return err
			}
			continue
		}
		for _, id := range ids {
			_, err := co.SweepCase(ctx, id)
			if err := tol.check(err); err != nil {
				return err
			}
		}
		pause(50, 50)
	}
	return nil
}

// TimeWarp moves the shared clock forward a day at a time so windows expire
// while the other actors are running.
func TimeWarp(ctx context.Context, clk *clock.Manual, every time.Duration, stop <-chan struct{}) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-ticker.C:
			clk.AdvanceDays(1)
		}
	}
}
