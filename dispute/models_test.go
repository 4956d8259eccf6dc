package dispute

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase(" pre_arbitration ")
	require.NoError(t, err)
	assert.Equal(t, PhasePreArbitration, p)

	_, err = ParsePhase("SETTLEMENT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	var argErr *InvalidArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "phase", argErr.Field)
}

func TestParseEnums_RejectUnknown(t *testing.T) {
	parsers := map[string]func(string) error{
		"party":    func(s string) error { _, err := ParseParty(s); return err },
		"decision": func(s string) error { _, err := ParseDecision(s); return err },
		"fee_rule": func(s string) error { _, err := ParseFeeRule(s); return err },
		"priority": func(s string) error { _, err := ParsePriority(s); return err },
		"window":   func(s string) error { _, err := ParseWindowStatus(s); return err },
		"arb":      func(s string) error { _, err := ParseArbitrationStatus(s); return err },
	}
	for name, parse := range parsers {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, parse("bogus"), ErrInvalidArgument)
		})
	}
}

func TestParsePriority_DefaultsToNormal(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)
}

func TestDecisionWinnerAndOpponent(t *testing.T) {
	assert.Equal(t, PartyIssuer, DecisionFavorableIssuer.Winner())
	assert.Equal(t, PartyAcquirer, DecisionFavorableAcquirer.Winner())
	assert.Equal(t, PartyAcquirer, PartyIssuer.Opponent())
	assert.Equal(t, PartyIssuer, PartyAcquirer.Opponent())
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, &InvalidTransitionError{From: PhaseInitial, To: PhaseFinalized}, ErrInvalidTransition)
	assert.ErrorIs(t, &InvalidStateError{Action: "assign", Status: ArbitrationDecided}, ErrInvalidState)
	assert.ErrorIs(t, &ConcurrentModificationError{CaseID: "c1", Expected: 2, Actual: 3}, ErrConcurrentModification)
	assert.NotErrorIs(t, &InvalidStateError{}, ErrAlreadyDecided)
}

func TestCase_TouchAndRecord(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Case{ID: "case-1", Version: 1}

	c.Touch(now)
	c.Record(EventCaseAdvanced, now, map[string]any{"to": "REPRESENTATION"})

	assert.Equal(t, int64(2), c.Version)
	assert.Equal(t, now, c.LastActionAt)
	require.Len(t, c.Pending, 1)
	assert.Equal(t, int64(2), c.Pending[0].Version)
	assert.NotEmpty(t, c.Pending[0].ID)

	events := c.TakePending()
	assert.Len(t, events, 1)
	assert.Empty(t, c.Pending)
}

func TestActiveArbitration(t *testing.T) {
	c := &Case{Arbitrations: []Arbitration{
		{ID: "a1", Status: ArbitrationCancelled},
		{ID: "a2", Status: ArbitrationInProgress},
	}}
	require.NotNil(t, c.ActiveArbitration())
	assert.Equal(t, "a2", c.ActiveArbitration().ID)
	assert.Nil(t, c.Arbitration("missing"))
}

func TestEventKind_Notifiable(t *testing.T) {
	assert.True(t, EventCaseAdvanced.Notifiable())
	assert.True(t, EventDeadlineExpired.Notifiable())
	assert.True(t, EventArbitrationDecided.Notifiable())
	assert.False(t, EventDeadlineExtended.Notifiable())
	assert.Equal(t, "dispute.audit", EventCaseOpened.Topic())
}
