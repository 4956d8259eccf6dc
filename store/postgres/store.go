// Package postgres is the PostgreSQL case store. A case, its windows, its
// arbitration requests and its new audit events are written in one
// transaction guarded by the case version.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"disputeflow/dispute"
	"disputeflow/logging"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is the read surface shared by DB and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db  DB
	log logging.Logger
}

func New(db DB, log logging.Logger) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{db: db, log: log.Named("store.postgres")}
}

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// validID reports whether id can name a row; case IDs are UUIDs.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Store) Create(ctx context.Context, c *dispute.Case) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO dispute_cases (id, dispute_id, phase, disputed_amount, contest_reason, can_escalate, outcome, version, last_action_at, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.DisputeID, string(c.Phase), c.DisputedAmount.String(), c.ContestReason, c.CanEscalate,
		nullString(string(c.Outcome)), c.Version, c.LastActionAt, c.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return &dispute.InvalidArgumentError{Field: "dispute_id", Reason: "a case already exists for dispute " + c.DisputeID}
			case checkViolation:
				return &dispute.InvalidArgumentError{Field: "case", Reason: "violates " + pgErr.ConstraintName}
			}
		}
		return fmt.Errorf("postgres: insert case: %w", err)
	}

	if err := writeChildren(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create: %w", err)
	}
	return nil
}

// Save writes c if the stored version is still expectedVersion.
func (s *Store) Save(ctx context.Context, c *dispute.Case, expectedVersion int64) error {
	if !validID(c.ID) {
		return dispute.ErrNotFound
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE dispute_cases
		SET phase=$3, can_escalate=$4, outcome=$5, version=$6, last_action_at=$7
		WHERE id=$1 AND version=$2
	`, c.ID, expectedVersion, string(c.Phase), c.CanEscalate, nullString(string(c.Outcome)), c.Version, c.LastActionAt)
	if err != nil {
		return fmt.Errorf("postgres: update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dispute_cases WHERE id=$1)`, c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check case: %w", err)
		}
		if !exists {
			return dispute.ErrNotFound
		}
		return dispute.ErrVersionConflict
	}

	if err := writeChildren(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save: %w", err)
	}
	return nil
}

// writeChildren upserts windows and requests and appends pending events.
// Closed windows and terminal requests go first so the partial unique
// indexes never see two open rows.
func writeChildren(ctx context.Context, tx pgx.Tx, c *dispute.Case) error {
	for i := range c.WindowHistory {
		if err := upsertWindow(ctx, tx, c.ID, &c.WindowHistory[i]); err != nil {
			return err
		}
	}
	if c.Window != nil {
		if err := upsertWindow(ctx, tx, c.ID, c.Window); err != nil {
			return err
		}
	}
	for _, terminal := range []bool{true, false} {
		for i := range c.Arbitrations {
			a := &c.Arbitrations[i]
			if a.Status.Terminal() != terminal {
				continue
			}
			if err := upsertArbitration(ctx, tx, c.ID, a); err != nil {
				return err
			}
		}
	}
	for _, e := range c.Pending {
		if err := appendEvent(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

func upsertWindow(ctx context.Context, tx pgx.Tx, caseID string, w *dispute.Window) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO deadline_windows (id, case_id, phase, start_at, due_at, extension_days_total, extension_reason, status, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET due_at=EXCLUDED.due_at,
		    extension_days_total=EXCLUDED.extension_days_total,
		    extension_reason=EXCLUDED.extension_reason,
		    status=EXCLUDED.status,
		    closed_at=EXCLUDED.closed_at
		WHERE deadline_windows.closed_at IS NULL
	`, w.ID, caseID, string(w.Phase), w.StartAt, w.DueAt, w.ExtensionDaysTotal, w.ExtensionReason, string(w.Status), w.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert window %s: %w", w.ID, err)
	}
	return nil
}

func upsertArbitration(ctx context.Context, tx pgx.Tx, caseID string, a *dispute.Arbitration) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO arbitration_requests (id, case_id, requested_by, priority, status, decision, fee_rule, motives, cost,
			requested_at, assigned_at, decided_at, cancelled_at, appeal_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE
		SET status=EXCLUDED.status,
		    decision=EXCLUDED.decision,
		    fee_rule=EXCLUDED.fee_rule,
		    motives=EXCLUDED.motives,
		    cost=EXCLUDED.cost,
		    assigned_at=EXCLUDED.assigned_at,
		    decided_at=EXCLUDED.decided_at,
		    cancelled_at=EXCLUDED.cancelled_at,
		    appeal_deadline=EXCLUDED.appeal_deadline
		WHERE arbitration_requests.status IN ('REQUESTED','IN_PROGRESS')
	`, a.ID, caseID, string(a.RequestedBy), string(a.Priority), string(a.Status),
		nullString(string(a.Decision)), nullString(string(a.FeeRule)), a.Motives, a.Cost.String(),
		a.RequestedAt, a.AssignedAt, a.DecidedAt, a.CancelledAt, a.AppealDeadline)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return dispute.ErrDuplicateActiveArbitration
		}
		return fmt.Errorf("postgres: upsert arbitration %s: %w", a.ID, err)
	}
	return nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, e dispute.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("postgres: encode event payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO case_events (case_id, seq, id, kind, version, at, payload)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6::jsonb
		FROM case_events WHERE case_id=$1
	`, e.CaseID, e.ID, string(e.Kind), e.Version, e.At, string(payload)); err != nil {
		return fmt.Errorf("postgres: append event: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*dispute.Case, error) {
	if !validID(id) {
		return nil, dispute.ErrNotFound
	}
	return load(ctx, s.db, id)
}

func load(ctx context.Context, q querier, id string) (*dispute.Case, error) {
	var (
		c       dispute.Case
		phase   string
		amount  string
		outcome *string
	)
	err := q.QueryRow(ctx, `
		SELECT id::text, dispute_id, phase, disputed_amount::text, contest_reason, can_escalate, outcome, version, last_action_at, created_at
		FROM dispute_cases WHERE id=$1
	`, id).Scan(&c.ID, &c.DisputeID, &phase, &amount, &c.ContestReason, &c.CanEscalate, &outcome, &c.Version, &c.LastActionAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispute.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: load case: %w", err)
	}
	if c.Phase, err = dispute.ParsePhase(phase); err != nil {
		return nil, fmt.Errorf("postgres: case %s: %w", id, err)
	}
	if outcome != nil {
		c.Outcome = dispute.Outcome(*outcome)
	}
	if c.DisputedAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("postgres: parse disputed amount: %w", err)
	}
	c.LastActionAt = c.LastActionAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()

	if err := loadWindows(ctx, q, &c); err != nil {
		return nil, err
	}
	if err := loadArbitrations(ctx, q, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadWindows(ctx context.Context, q querier, c *dispute.Case) error {
	rows, err := q.Query(ctx, `
		SELECT id::text, phase, start_at, due_at, extension_days_total, extension_reason, status, closed_at
		FROM deadline_windows WHERE case_id=$1
		ORDER BY start_at, closed_at NULLS LAST
	`, c.ID)
	if err != nil {
		return fmt.Errorf("postgres: load windows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			w             dispute.Window
			phase, status string
		)
		if err := rows.Scan(&w.ID, &phase, &w.StartAt, &w.DueAt, &w.ExtensionDaysTotal, &w.ExtensionReason, &status, &w.ClosedAt); err != nil {
			return fmt.Errorf("postgres: scan window: %w", err)
		}
		w.CaseID = c.ID
		if w.Phase, err = dispute.ParsePhase(phase); err != nil {
			return fmt.Errorf("postgres: window %s: %w", w.ID, err)
		}
		if w.Status, err = dispute.ParseWindowStatus(status); err != nil {
			return fmt.Errorf("postgres: window %s: %w", w.ID, err)
		}
		w.StartAt = w.StartAt.UTC()
		w.DueAt = w.DueAt.UTC()
		w.ClosedAt = utcPtr(w.ClosedAt)
		if w.ClosedAt == nil {
			cur := w
			c.Window = &cur
			continue
		}
		c.WindowHistory = append(c.WindowHistory, w)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: iterate windows: %w", err)
	}
	return nil
}

func loadArbitrations(ctx context.Context, q querier, c *dispute.Case) error {
	rows, err := q.Query(ctx, `
		SELECT id::text, requested_by, priority, status, decision, fee_rule, motives, cost::text,
			requested_at, assigned_at, decided_at, cancelled_at, appeal_deadline
		FROM arbitration_requests WHERE case_id=$1
		ORDER BY requested_at, id
	`, c.ID)
	if err != nil {
		return fmt.Errorf("postgres: load arbitrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a                         dispute.Arbitration
			by, priority, status, amt string
			decision, feeRule         *string
		)
		if err := rows.Scan(&a.ID, &by, &priority, &status, &decision, &feeRule, &a.Motives, &amt,
			&a.RequestedAt, &a.AssignedAt, &a.DecidedAt, &a.CancelledAt, &a.AppealDeadline); err != nil {
			return fmt.Errorf("postgres: scan arbitration: %w", err)
		}
		a.CaseID = c.ID
		if a.RequestedBy, err = dispute.ParseParty(by); err != nil {
			return fmt.Errorf("postgres: arbitration %s: %w", a.ID, err)
		}
		if a.Priority, err = dispute.ParsePriority(priority); err != nil {
			return fmt.Errorf("postgres: arbitration %s: %w", a.ID, err)
		}
		if a.Status, err = dispute.ParseArbitrationStatus(status); err != nil {
			return fmt.Errorf("postgres: arbitration %s: %w", a.ID, err)
		}
		if decision != nil {
			if a.Decision, err = dispute.ParseDecision(*decision); err != nil {
				return fmt.Errorf("postgres: arbitration %s: %w", a.ID, err)
			}
		}
		if feeRule != nil {
			if a.FeeRule, err = dispute.ParseFeeRule(*feeRule); err != nil {
				return fmt.Errorf("postgres: arbitration %s: %w", a.ID, err)
			}
		}
		if a.Cost, err = decimal.NewFromString(amt); err != nil {
			return fmt.Errorf("postgres: parse cost: %w", err)
		}
		a.RequestedAt = a.RequestedAt.UTC()
		a.AssignedAt = utcPtr(a.AssignedAt)
		a.DecidedAt = utcPtr(a.DecidedAt)
		a.CancelledAt = utcPtr(a.CancelledAt)
		a.AppealDeadline = utcPtr(a.AppealDeadline)
		c.Arbitrations = append(c.Arbitrations, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: iterate arbitrations: %w", err)
	}
	return nil
}

// ListOpenWindowCases returns case IDs with an open window, soonest due first.
func (s *Store) ListOpenWindowCases(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT case_id::text FROM deadline_windows
		WHERE closed_at IS NULL AND status IN ('ACTIVE','PROLONGED')
		ORDER BY due_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open windows: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan case id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate open windows: %w", err)
	}
	return out, nil
}

// Events returns the audit log of a case in append order.
func (s *Store) Events(ctx context.Context, caseID string) ([]dispute.Event, error) {
	if !validID(caseID) {
		return []dispute.Event{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, kind, version, at, payload
		FROM case_events WHERE case_id=$1
		ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	out := make([]dispute.Event, 0, 8)
	for rows.Next() {
		var (
			e       dispute.Event
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.Version, &e.At, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.CaseID = caseID
		e.Kind = dispute.EventKind(kind)
		e.At = e.At.UTC()
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("postgres: decode event payload: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate events: %w", err)
	}
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
