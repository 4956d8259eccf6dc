package postgres

import (
	"context"
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
	"disputeflow/test/infra"
	"disputeflow/workflow"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *infra.Harness {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration skipped in -short mode")
	}
	ctx := context.Background()
	if !infra.Available(ctx) {
		t.Skipf("no Docker and %s unset", infra.DSNEnv)
	}
	h, err := infra.NewHarness(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func openCase(t *testing.T, s *Store, clk *clock.Manual, disputeID string) *dispute.Case {
	t.Helper()
	c, err := workflow.New(workflow.DefaultDurations).Open(workflow.OpenParams{
		DisputeID:      disputeID,
		DisputedAmount: decimal.RequireFromString("1250.40"),
		ContestReason:  "13.1 merchandise not received",
	}, clk.Now())
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), c))
	return c
}

func TestStore_Integration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("create and load round trip", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))
		s := New(h.Pool(), nil)
		clk := clock.NewManual(t0)
		c := openCase(t, s, clk, "dsp-rt")

		got, err := s.Load(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.DisputeID, got.DisputeID)
		assert.Equal(t, dispute.PhaseInitial, got.Phase)
		assert.True(t, got.DisputedAmount.Equal(decimal.RequireFromString("1250.40")))
		assert.Equal(t, int64(1), got.Version)
		require.NotNil(t, got.Window)
		assert.True(t, got.Window.DueAt.Equal(t0.AddDate(0, 0, 10)))
		assert.Empty(t, got.Pending)

		events, err := s.Events(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, dispute.EventCaseOpened, events[0].Kind)
	})

	t.Run("duplicate dispute id", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))
		s := New(h.Pool(), nil)
		clk := clock.NewManual(t0)
		openCase(t, s, clk, "dsp-dup")

		c, err := workflow.New(workflow.DefaultDurations).Open(workflow.OpenParams{
			DisputeID:      "dsp-dup",
			DisputedAmount: decimal.NewFromInt(10),
			ContestReason:  "again",
		}, clk.Now())
		require.NoError(t, err)
		assert.ErrorIs(t, s.Create(ctx, c), dispute.ErrInvalidArgument)
	})

	t.Run("missing case", func(t *testing.T) {
		s := New(h.Pool(), nil)
		_, err := s.Load(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, dispute.ErrNotFound)
	})

	t.Run("save guards version", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))
		s := New(h.Pool(), nil)
		clk := clock.NewManual(t0)
		c := openCase(t, s, clk, "dsp-ver")

		first, err := s.Load(ctx, c.ID)
		require.NoError(t, err)
		second, err := s.Load(ctx, c.ID)
		require.NoError(t, err)

		wf := workflow.New(workflow.DefaultDurations)
		require.NoError(t, wf.Transition(first, dispute.PhaseRepresentation, clk.Now()))
		require.NoError(t, s.Save(ctx, first, 1))

		require.NoError(t, deadline.Extend(second.Window, 3, "late documents"))
		second.Touch(clk.Now())
		second.Record(dispute.EventDeadlineExtended, clk.Now(), map[string]any{"extra_days": 3})
		assert.ErrorIs(t, s.Save(ctx, second, 1), dispute.ErrVersionConflict)

		got, err := s.Load(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, dispute.PhaseRepresentation, got.Phase)
		assert.Equal(t, int64(2), got.Version)
		assert.Len(t, got.WindowHistory, 1)
		require.NotNil(t, got.Window)
		assert.Equal(t, dispute.PhaseRepresentation, got.Window.Phase)
		assert.Equal(t, 0, got.Window.ExtensionDaysTotal)

		events, err := s.Events(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("coordinator end to end", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))
		s := New(h.Pool(), nil)
		clk := clock.NewManual(t0)
		co := coordinator.New(s, coordinator.Options{Durations: workflow.DefaultDurations, Clock: clk})

		c, err := co.OpenCase(ctx, coordinator.OpenCaseParams{
			DisputeID:      "dsp-e2e",
			DisputedAmount: decimal.NewFromInt(100000),
			ContestReason:  "10.4 fraud",
		})
		require.NoError(t, err)

		c, err = co.Advance(ctx, c.ID, c.Version, dispute.PhaseRepresentation)
		require.NoError(t, err)
		c, err = co.ExtendDeadline(ctx, c.ID, c.Version, 5, "documents pending")
		require.NoError(t, err)

		clk.AdvanceDays(40)
		ids, err := s.ListOpenWindowCases(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID}, ids)
		expired, err := co.SweepCase(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, expired)
		ids, err = s.ListOpenWindowCases(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)

		c, err = co.Advance(ctx, c.ID, coordinator.AnyVersion, dispute.PhasePreArbitration)
		require.NoError(t, err)
		c, req, err := co.RequestArbitration(ctx, c.ID, c.Version, dispute.PartyIssuer, dispute.PriorityUrgent)
		require.NoError(t, err)
		assert.True(t, req.Cost.Equal(decimal.NewFromInt(5000)))

		_, _, err = co.RequestArbitration(ctx, c.ID, coordinator.AnyVersion, dispute.PartyAcquirer, dispute.PriorityLow)
		assert.ErrorIs(t, err, dispute.ErrDuplicateActiveArbitration)

		c, err = co.AssignArbitration(ctx, c.ID, c.Version, req.ID)
		require.NoError(t, err)
		c, err = co.DecideArbitration(ctx, c.ID, c.Version, req.ID, arbitration.Ruling{
			Decision: dispute.DecisionFavorableIssuer,
			Motives:  "evidence supports the issuer",
			FeeRule:  dispute.FeeSplit,
		})
		require.NoError(t, err)
		c, err = co.Advance(ctx, c.ID, c.Version, dispute.PhaseFinalized)
		require.NoError(t, err)

		got, err := s.Load(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, dispute.PhaseFinalized, got.Phase)
		assert.False(t, got.CanEscalate)
		assert.Nil(t, got.Window)
		assert.Len(t, got.WindowHistory, 3)
		require.Len(t, got.Arbitrations, 1)
		a := got.Arbitrations[0]
		assert.Equal(t, dispute.ArbitrationDecided, a.Status)
		assert.Equal(t, dispute.FeeSplit, a.FeeRule)
		require.NotNil(t, a.AppealDeadline)
		assert.Equal(t, c.Version, got.Version)

		events, err := s.Events(ctx, c.ID)
		require.NoError(t, err)
		kinds := make([]dispute.EventKind, 0, len(events))
		for _, e := range events {
			kinds = append(kinds, e.Kind)
		}
		assert.Equal(t, []dispute.EventKind{
			dispute.EventCaseOpened,
			dispute.EventCaseAdvanced,
			dispute.EventDeadlineExtended,
			dispute.EventDeadlineExpired,
			dispute.EventCaseAdvanced,
			dispute.EventArbitrationRequested,
			dispute.EventArbitrationAssigned,
			dispute.EventArbitrationDecided,
			dispute.EventCaseAdvanced,
		}, kinds)
		assert.Equal(t, got.Version, events[len(events)-1].Version)
	})

	t.Run("events are append only", func(t *testing.T) {
		require.NoError(t, h.Reset(ctx))
		s := New(h.Pool(), nil)
		c := openCase(t, s, clock.NewManual(t0), "dsp-worm")
		_, err := h.Pool().Exec(ctx, `DELETE FROM case_events WHERE case_id=$1`, c.ID)
		assert.Error(t, err)
	})
}
