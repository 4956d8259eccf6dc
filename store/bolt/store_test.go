package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/arbitration"
	"disputeflow/clock"
	"disputeflow/coordinator"
	"disputeflow/deadline"
	"disputeflow/dispute"
	"disputeflow/workflow"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openCase(t *testing.T, s *Store, disputeID string, now time.Time) *dispute.Case {
	t.Helper()
	c, err := workflow.New(workflow.DefaultDurations).Open(workflow.OpenParams{
		DisputeID:      disputeID,
		DisputedAmount: decimal.RequireFromString("310.25"),
		ContestReason:  "12.6 duplicate processing",
	}, now)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), c))
	return c
}

func TestCreateLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := openCase(t, s, "dsp-1", t0)

	got, err := s.Load(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.DisputeID, got.DisputeID)
	assert.True(t, got.DisputedAmount.Equal(c.DisputedAmount))
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.Window)
	assert.True(t, got.Window.DueAt.Equal(c.Window.DueAt))
	assert.Empty(t, got.Pending)

	events, err := s.Events(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, dispute.EventCaseOpened, events[0].Kind)
}

func TestCreate_DuplicateDispute(t *testing.T) {
	s := newStore(t)
	openCase(t, s, "dsp-1", t0)

	c, err := workflow.New(workflow.DefaultDurations).Open(workflow.OpenParams{
		DisputeID:      "dsp-1",
		DisputedAmount: decimal.NewFromInt(5),
		ContestReason:  "again",
	}, t0)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Create(context.Background(), c), dispute.ErrInvalidArgument)
}

func TestLoad_Missing(t *testing.T) {
	s := newStore(t)
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, dispute.ErrNotFound)

	err = s.Save(context.Background(), &dispute.Case{ID: "nope", Version: 2}, 1)
	assert.ErrorIs(t, err, dispute.ErrNotFound)
}

func TestSave_VersionGuard(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := openCase(t, s, "dsp-1", t0)
	wf := workflow.New(workflow.DefaultDurations)

	a, err := s.Load(ctx, c.ID)
	require.NoError(t, err)
	b, err := s.Load(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, wf.Transition(a, dispute.PhaseRepresentation, t0))
	require.NoError(t, s.Save(ctx, a, 1))

	require.NoError(t, deadline.Extend(b.Window, 3, "late documents"))
	b.Touch(t0)
	b.Record(dispute.EventDeadlineExtended, t0, map[string]any{"extra_days": 3})
	assert.ErrorIs(t, s.Save(ctx, b, 1), dispute.ErrVersionConflict)

	got, err := s.Load(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.PhaseRepresentation, got.Phase)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.Window)
	assert.Equal(t, 0, got.Window.ExtensionDaysTotal)

	events, err := s.Events(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2, "rejected save must not append events")
}

func TestListOpenWindowCases(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	late := openCase(t, s, "dsp-late", t0.AddDate(0, 0, 3))
	early := openCase(t, s, "dsp-early", t0)
	done := openCase(t, s, "dsp-done", t0)

	wf := workflow.New(workflow.DefaultDurations)
	cur, err := s.Load(ctx, done.ID)
	require.NoError(t, err)
	require.NoError(t, wf.Transition(cur, dispute.PhaseRepresentation, t0))
	require.NoError(t, wf.Transition(cur, dispute.PhaseFinalized, t0))
	require.NoError(t, s.Save(ctx, cur, 1))

	ids, err := s.ListOpenWindowCases(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{early.ID, late.ID}, ids)

	ids, err = s.ListOpenWindowCases(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{early.ID}, ids)
}

func TestCoordinatorOverBolt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	clk := clock.NewManual(t0)
	co := coordinator.New(s, coordinator.Options{Durations: workflow.DefaultDurations, Clock: clk})

	c, err := co.OpenCase(ctx, coordinator.OpenCaseParams{
		DisputeID:      "dsp-flow",
		DisputedAmount: decimal.NewFromInt(2000),
		ContestReason:  "10.4 fraud",
	})
	require.NoError(t, err)

	clk.AdvanceDays(11)
	expired, err := co.SweepCase(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	expired, err = co.SweepCase(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	ids, err := s.ListOpenWindowCases(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	c, err = co.Advance(ctx, c.ID, coordinator.AnyVersion, dispute.PhaseRepresentation)
	require.NoError(t, err)
	c, req, err := co.RequestArbitration(ctx, c.ID, c.Version, dispute.PartyAcquirer, "")
	require.NoError(t, err)
	assert.True(t, req.Cost.Equal(decimal.NewFromInt(500)))

	c, err = co.DecideArbitration(ctx, c.ID, c.Version, req.ID, arbitration.Ruling{
		Decision: dispute.DecisionFavorableAcquirer,
		FeeRule:  dispute.FeeLoser,
	})
	require.NoError(t, err)

	got, err := s.Load(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Arbitrations, 1)
	assert.Equal(t, dispute.ArbitrationDecided, got.Arbitrations[0].Status)
	require.NotNil(t, got.Arbitrations[0].AppealDeadline)
	assert.True(t, got.Arbitrations[0].AppealDeadline.Equal(clk.Now().AddDate(0, 0, 30)))

	events, err := s.Events(ctx, c.ID)
	require.NoError(t, err)
	kinds := make([]dispute.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []dispute.EventKind{
		dispute.EventCaseOpened,
		dispute.EventDeadlineExpired,
		dispute.EventCaseAdvanced,
		dispute.EventArbitrationRequested,
		dispute.EventArbitrationDecided,
	}, kinds)
}
