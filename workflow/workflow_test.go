package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/deadline"
	"disputeflow/dispute"
)

var t0 = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func openCase(t *testing.T, wf *Workflow) *dispute.Case {
	t.Helper()
	c, err := wf.Open(OpenParams{
		DisputeID:      "dsp-100",
		DisputedAmount: decimal.RequireFromString("1250.40"),
		ContestReason:  "4853",
	}, t0)
	require.NoError(t, err)
	return c
}

func caseIn(phase dispute.Phase) *dispute.Case {
	c := &dispute.Case{ID: "case-x", Phase: phase, CanEscalate: true, Version: 3}
	if phase != dispute.PhaseFinalized {
		c.Window = &dispute.Window{ID: "w-old", Phase: phase, StartAt: t0, DueAt: t0.AddDate(0, 0, 5), Status: dispute.WindowActive}
	}
	return c
}

func TestOpen(t *testing.T) {
	c := openCase(t, New(Durations{}))

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, dispute.PhaseInitial, c.Phase)
	assert.Equal(t, int64(1), c.Version)
	assert.True(t, c.CanEscalate)
	require.NotNil(t, c.Window)
	assert.Equal(t, t0.AddDate(0, 0, 10), c.Window.DueAt)
	require.Len(t, c.Pending, 1)
	assert.Equal(t, dispute.EventCaseOpened, c.Pending[0].Kind)
}

func TestOpen_Validation(t *testing.T) {
	wf := New(Durations{})
	tests := []struct {
		name   string
		params OpenParams
		field  string
	}{
		{"missing dispute", OpenParams{DisputedAmount: decimal.NewFromInt(10), ContestReason: "10.4"}, "dispute_id"},
		{"zero amount", OpenParams{DisputeID: "d", DisputedAmount: decimal.Zero, ContestReason: "10.4"}, "disputed_amount"},
		{"negative amount", OpenParams{DisputeID: "d", DisputedAmount: decimal.NewFromInt(-3), ContestReason: "10.4"}, "disputed_amount"},
		{"sub-cent amount", OpenParams{DisputeID: "d", DisputedAmount: decimal.RequireFromString("0.001"), ContestReason: "10.4"}, "disputed_amount"},
		{"half-cent amount", OpenParams{DisputeID: "d", DisputedAmount: decimal.RequireFromString("100.005"), ContestReason: "10.4"}, "disputed_amount"},
		{"too large", OpenParams{DisputeID: "d", DisputedAmount: decimal.New(1, 16), ContestReason: "10.4"}, "disputed_amount"},
		{"missing reason", OpenParams{DisputeID: "d", DisputedAmount: decimal.NewFromInt(10), ContestReason: "  "}, "contest_reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wf.Open(tt.params, t0)
			var argErr *dispute.InvalidArgumentError
			require.True(t, errors.As(err, &argErr), "got %v", err)
			assert.Equal(t, tt.field, argErr.Field)
		})
	}
}

func TestOpen_AmountTrailingZeros(t *testing.T) {
	c, err := New(Durations{}).Open(OpenParams{
		DisputeID:      "d",
		DisputedAmount: decimal.RequireFromString("1.500"),
		ContestReason:  "10.4",
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, "1.50", c.DisputedAmount.StringFixed(2))
}

func TestTransition_AllPairs(t *testing.T) {
	wf := New(Durations{})
	for _, from := range dispute.Phases {
		for _, to := range dispute.Phases {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				c := caseIn(from)
				err := wf.Transition(c, to, t0.Add(time.Hour))

				switch {
				case from == dispute.PhaseFinalized:
					assert.ErrorIs(t, err, dispute.ErrAlreadyFinalized)
				case CanTransition(from, to):
					require.NoError(t, err)
					assert.Equal(t, to, c.Phase)
					assert.Equal(t, int64(4), c.Version)
				default:
					var trErr *dispute.InvalidTransitionError
					require.True(t, errors.As(err, &trErr), "got %v", err)
					assert.Equal(t, from, trErr.From)
					assert.Equal(t, to, trErr.To)
					assert.Equal(t, from, c.Phase)
					assert.Equal(t, int64(3), c.Version)
					assert.Empty(t, c.Pending)
				}
			})
		}
	}
}

func TestAllowedNext_Table(t *testing.T) {
	assert.Equal(t, []dispute.Phase{dispute.PhaseRepresentation}, AllowedNext(dispute.PhaseInitial))
	assert.ElementsMatch(t, []dispute.Phase{dispute.PhasePreArbitration, dispute.PhaseFinalized}, AllowedNext(dispute.PhaseRepresentation))
	assert.ElementsMatch(t, []dispute.Phase{dispute.PhaseArbitration, dispute.PhaseFinalized}, AllowedNext(dispute.PhasePreArbitration))
	assert.Equal(t, []dispute.Phase{dispute.PhaseFinalized}, AllowedNext(dispute.PhaseArbitration))
	assert.Empty(t, AllowedNext(dispute.PhaseFinalized))
}

func TestTransition_OpensFreshWindowAndClosesOld(t *testing.T) {
	wf := New(Durations{Representation: 21})
	c := openCase(t, wf)
	oldID := c.Window.ID
	now := t0.AddDate(0, 0, 4)

	require.NoError(t, wf.Transition(c, dispute.PhaseRepresentation, now))

	require.NotNil(t, c.Window)
	assert.NotEqual(t, oldID, c.Window.ID)
	assert.Equal(t, dispute.PhaseRepresentation, c.Window.Phase)
	assert.Equal(t, now.AddDate(0, 0, 21), c.Window.DueAt)
	assert.Equal(t, dispute.WindowActive, c.Window.Status)
	require.Len(t, c.WindowHistory, 1)
	assert.Equal(t, oldID, c.WindowHistory[0].ID)
	require.NotNil(t, c.WindowHistory[0].ClosedAt)
	assert.False(t, c.WindowHistory[0].Open())
	assert.Equal(t, now, c.LastActionAt)
}

func TestTransition_FinalizeCancelsArbitrationAndLocksCase(t *testing.T) {
	wf := New(Durations{})
	c := caseIn(dispute.PhaseArbitration)
	c.Arbitrations = []dispute.Arbitration{{ID: "arb-1", Status: dispute.ArbitrationInProgress}}
	now := t0.AddDate(0, 0, 2)

	require.NoError(t, wf.Transition(c, dispute.PhaseFinalized, now))

	assert.False(t, c.CanEscalate)
	assert.Nil(t, c.Window)
	assert.Equal(t, dispute.ArbitrationCancelled, c.Arbitrations[0].Status)
	assert.Equal(t, dispute.OutcomeSettled, c.Outcome)
	assert.Len(t, c.WindowHistory, 1)

	kinds := []dispute.EventKind{}
	for _, e := range c.Pending {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []dispute.EventKind{dispute.EventArbitrationCancelled, dispute.EventCaseAdvanced}, kinds)

	for _, target := range dispute.Phases {
		assert.ErrorIs(t, wf.Transition(c, target, now), dispute.ErrAlreadyFinalized)
	}
	assert.False(t, c.CanEscalate)
}

func TestTransition_FinalizeAfterDecisionIsArbitrated(t *testing.T) {
	wf := New(Durations{})
	c := caseIn(dispute.PhaseArbitration)
	c.Arbitrations = []dispute.Arbitration{{ID: "arb-1", Status: dispute.ArbitrationDecided, Decision: dispute.DecisionFavorableIssuer}}

	require.NoError(t, wf.Transition(c, dispute.PhaseFinalized, t0))
	assert.Equal(t, dispute.OutcomeArbitrated, c.Outcome)
	assert.Equal(t, dispute.ArbitrationDecided, c.Arbitrations[0].Status)
}

func TestTransition_IndependentOfWindowExpiry(t *testing.T) {
	wf := New(Durations{})
	c := openCase(t, wf)

	sweepAt := t0.AddDate(0, 0, 11)
	require.True(t, deadline.SweepExpire(c.Window, sweepAt))
	assert.Equal(t, dispute.WindowExpired, c.Window.Status)

	require.NoError(t, wf.Transition(c, dispute.PhaseRepresentation, sweepAt.Add(time.Hour)))
	assert.Equal(t, dispute.PhaseRepresentation, c.Phase)
	assert.Equal(t, dispute.WindowActive, c.Window.Status)
	assert.Equal(t, dispute.WindowExpired, c.WindowHistory[0].Status)
}

func TestDurations_For(t *testing.T) {
	d := Durations{Initial: 7}
	assert.Equal(t, 7, d.For(dispute.PhaseInitial))
	assert.Equal(t, DefaultDurations.Arbitration, d.For(dispute.PhaseArbitration))
	assert.Equal(t, 0, d.For(dispute.PhaseFinalized))
}
