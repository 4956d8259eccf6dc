// Package coordinator is the entry point for every case operation. It loads a
// case, checks the caller's version, applies one engine operation, saves with
// a version guard and hands notifiable events to the dispatcher.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"disputeflow/arbitration"
	"disputeflow/clock"
	"disputeflow/deadline"
	"disputeflow/dispute"
	"disputeflow/logging"
	"disputeflow/metrics"
	"disputeflow/workflow"
)

// AnyVersion skips the caller's version check and lets the coordinator
// reload and reapply on conflict.
const AnyVersion int64 = 0

const DefaultMaxConflictRetries = 3

// Store persists cases. Load must return a copy the caller may mutate. Save
// writes the case and appends c.Pending atomically, failing with
// dispute.ErrVersionConflict when the stored version is not expectedVersion.
type Store interface {
	Create(ctx context.Context, c *dispute.Case) error
	Load(ctx context.Context, id string) (*dispute.Case, error)
	Save(ctx context.Context, c *dispute.Case, expectedVersion int64) error
	ListOpenWindowCases(ctx context.Context, limit int) ([]string, error)
}

// Dispatcher publishes notifiable events. Dispatch must not block on delivery.
type Dispatcher interface {
	Dispatch(e dispute.Event)
}

type Options struct {
	Durations          workflow.Durations
	AppealWindowDays   int
	MaxConflictRetries int
	Clock              clock.Clock
	Dispatcher         Dispatcher
	Logger             logging.Logger
	Metrics            *metrics.Metrics
}

type Coordinator struct {
	store      Store
	workflow   *workflow.Workflow
	arb        *arbitration.Engine
	clock      clock.Clock
	dispatcher Dispatcher
	log        logging.Logger
	metrics    *metrics.Metrics
	maxRetries int
}

func New(store Store, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = nopDispatcher{}
	}
	if opts.MaxConflictRetries <= 0 {
		opts.MaxConflictRetries = DefaultMaxConflictRetries
	}
	return &Coordinator{
		store:      store,
		workflow:   workflow.New(opts.Durations),
		arb:        arbitration.NewEngine(opts.AppealWindowDays),
		clock:      opts.Clock,
		dispatcher: opts.Dispatcher,
		log:        opts.Logger.Named("coordinator"),
		metrics:    opts.Metrics,
		maxRetries: opts.MaxConflictRetries,
	}
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(dispute.Event) {}

type OpenCaseParams struct {
	DisputeID      string
	DisputedAmount decimal.Decimal
	ContestReason  string
}

// OpenCase creates a case in INITIAL with its first deadline window.
func (s *Coordinator) OpenCase(ctx context.Context, params OpenCaseParams) (*dispute.Case, error) {
	c, err := s.workflow.Open(workflow.OpenParams{
		DisputeID:      params.DisputeID,
		DisputedAmount: params.DisputedAmount,
		ContestReason:  params.ContestReason,
	}, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("coordinator: create case: %w", err)
	}
	s.publish(c)
	s.log.Info("case opened", logging.String("case_id", c.ID), logging.String("dispute_id", c.DisputeID))
	return c, nil
}

func (s *Coordinator) Get(ctx context.Context, caseID string) (*dispute.Case, error) {
	c, err := s.store.Load(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load %s: %w", caseID, err)
	}
	return c, nil
}

// Advance moves the case to target.
func (s *Coordinator) Advance(ctx context.Context, caseID string, expectedVersion int64, target dispute.Phase) (*dispute.Case, error) {
	var from dispute.Phase
	c, err := s.mutate(ctx, "advance", caseID, expectedVersion, func(c *dispute.Case, now time.Time) error {
		from = c.Phase
		return s.workflow.Transition(c, target, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(from), string(target))
	return c, nil
}

// ExtendDeadline pushes the current window's due date by extraDays.
func (s *Coordinator) ExtendDeadline(ctx context.Context, caseID string, expectedVersion int64, extraDays int, reason string) (*dispute.Case, error) {
	c, err := s.mutate(ctx, "extend_deadline", caseID, expectedVersion, func(c *dispute.Case, now time.Time) error {
		if c.Finalized() {
			return dispute.ErrAlreadyFinalized
		}
		if err := deadline.Extend(c.Window, extraDays, reason); err != nil {
			return err
		}
		c.Touch(now)
		c.Record(dispute.EventDeadlineExtended, now, map[string]any{
			"window_id":            c.Window.ID,
			"phase":                string(c.Window.Phase),
			"extra_days":           extraDays,
			"due_at":               c.Window.DueAt,
			"extension_days_total": c.Window.ExtensionDaysTotal,
			"reason":               reason,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveExtension()
	return c, nil
}

// RequestArbitration opens an arbitration request and returns it with the case.
func (s *Coordinator) RequestArbitration(ctx context.Context, caseID string, expectedVersion int64, by dispute.Party, priority dispute.Priority) (*dispute.Case, *dispute.Arbitration, error) {
	var id string
	c, err := s.mutate(ctx, "request_arbitration", caseID, expectedVersion, func(c *dispute.Case, now time.Time) error {
		req, err := s.arb.Request(c, by, priority, now)
		if err != nil {
			return err
		}
		id = req.ID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return c, c.Arbitration(id), nil
}

func (s *Coordinator) AssignArbitration(ctx context.Context, caseID string, expectedVersion int64, arbitrationID string) (*dispute.Case, error) {
	return s.mutate(ctx, "assign_arbitration", caseID, expectedVersion, func(c *dispute.Case, now time.Time) error {
		req, err := arbitration.Find(c, arbitrationID)
		if err != nil {
			return err
		}
		return s.arb.Assign(c, req, now)
	})
}

func (s *Coordinator) DecideArbitration(ctx context.Context, caseID string, expectedVersion int64, arbitrationID string, ruling arbitration.Ruling) (*dispute.Case, error) {
	c, err := s.mutate(ctx, "decide_arbitration", caseID, expectedVersion, func(c *dispute.Case, now time.Time) error {
		req, err := arbitration.Find(c, arbitrationID)
		if err != nil {
			return err
		}
		return s.arb.Decide(c, req, ruling, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveDecision(string(ruling.Decision))
	return c, nil
}

func (s *Coordinator) CancelArbitration(ctx context.Context, caseID string, expectedVersion int64, arbitrationID, reason string) (*dispute.Case, error) {
	return s.mutate(ctx, "cancel_arbitration", caseID, expectedVersion, func(c *dispute.Case, now time.Time) error {
		req, err := arbitration.Find(c, arbitrationID)
		if err != nil {
			return err
		}
		return s.arb.Cancel(c, req, reason, now)
	})
}

// SweepCase expires the case's window when it is past due. It saves only when
// something changed and never retries: a conflict means another writer got
// there first and the next sweep re-reads the case.
func (s *Coordinator) SweepCase(ctx context.Context, caseID string) (bool, error) {
	c, err := s.store.Load(ctx, caseID)
	if err != nil {
		return false, fmt.Errorf("coordinator: load %s: %w", caseID, err)
	}
	loaded := c.Version
	now := s.clock.Now()
	if !deadline.SweepExpire(c.Window, now) {
		return false, nil
	}
	c.Touch(now)
	c.Record(dispute.EventDeadlineExpired, now, map[string]any{
		"window_id": c.Window.ID,
		"phase":     string(c.Window.Phase),
		"due_at":    c.Window.DueAt,
	})

	if err := s.store.Save(ctx, c, loaded); err != nil {
		if errors.Is(err, dispute.ErrVersionConflict) {
			s.metrics.ObserveConflict("sweep")
			return false, &dispute.ConcurrentModificationError{CaseID: caseID, Expected: loaded, Actual: s.currentVersion(ctx, caseID)}
		}
		return false, fmt.Errorf("coordinator: sweep %s: save: %w", caseID, err)
	}
	s.metrics.ObserveExpired()
	s.publish(c)
	return true, nil
}

// mutate runs op against a freshly loaded case. With an explicit
// expectedVersion a mismatch fails immediately; with AnyVersion a lost save
// is retried on a reloaded case up to maxRetries times.
func (s *Coordinator) mutate(ctx context.Context, op, caseID string, expectedVersion int64, apply func(*dispute.Case, time.Time) error) (*dispute.Case, error) {
	if expectedVersion < 0 {
		return nil, &dispute.InvalidArgumentError{Field: "expected_version", Reason: "must not be negative"}
	}
	attempts := 1
	if expectedVersion == AnyVersion {
		attempts += s.maxRetries
	}

	for attempt := 1; ; attempt++ {
		c, err := s.store.Load(ctx, caseID)
		if err != nil {
			return nil, fmt.Errorf("coordinator: %s: load %s: %w", op, caseID, err)
		}
		if expectedVersion != AnyVersion && c.Version != expectedVersion {
			s.metrics.ObserveConflict(op)
			return nil, &dispute.ConcurrentModificationError{CaseID: caseID, Expected: expectedVersion, Actual: c.Version}
		}

		loaded := c.Version
		if err := apply(c, s.clock.Now()); err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, c, loaded)
		if err == nil {
			s.publish(c)
			return c, nil
		}
		if !errors.Is(err, dispute.ErrVersionConflict) {
			return nil, fmt.Errorf("coordinator: %s: save %s: %w", op, caseID, err)
		}

		s.metrics.ObserveConflict(op)
		if attempt >= attempts {
			return nil, &dispute.ConcurrentModificationError{CaseID: caseID, Expected: loaded, Actual: s.currentVersion(ctx, caseID)}
		}
		s.log.Warn("version conflict, retrying",
			logging.String("op", op),
			logging.String("case_id", caseID),
			logging.Int64("loaded_version", loaded),
			logging.Int("attempt", attempt),
		)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// currentVersion is best effort and only feeds error reporting.
func (s *Coordinator) currentVersion(ctx context.Context, caseID string) int64 {
	c, err := s.store.Load(ctx, caseID)
	if err != nil {
		return -1
	}
	return c.Version
}

// publish drains the case's pending events and forwards the notifiable ones.
func (s *Coordinator) publish(c *dispute.Case) {
	for _, e := range c.TakePending() {
		if !e.Kind.Notifiable() {
			continue
		}
		s.dispatcher.Dispatch(e)
	}
}
