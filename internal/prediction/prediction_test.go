package prediction

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	testCases := []struct {
		name       string
		probs      Probabilities
		outcome    Outcome
		confidence float64
	}{
		{"clear home win", Probabilities{Home: 0.7, Draw: 0.2, Away: 0.1}, HomeWin, 0.7},
		{"clear away win", Probabilities{Home: 0.2, Draw: 0.25, Away: 0.55}, AwayWin, 0.55},
		{"clear draw", Probabilities{Home: 0.3, Draw: 0.4, Away: 0.3}, Draw, 0.4},
		{"three way tie", Probabilities{Home: 1.0 / 3, Draw: 1.0 / 3, Away: 1.0 / 3}, Draw, 1.0 / 3},
		{"home away tie", Probabilities{Home: 0.4, Draw: 0.2, Away: 0.4}, HomeWin, 0.4},
		{"draw away tie", Probabilities{Home: 0.2, Draw: 0.4, Away: 0.4}, Draw, 0.4},
		{"draw home tie", Probabilities{Home: 0.45, Draw: 0.45, Away: 0.1}, Draw, 0.45},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, confidence := Decide(tc.probs)
			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, tc.confidence, confidence)
		})
	}
}

func TestOutcome_ClassIndices(t *testing.T) {
	assert.Equal(t, 0, int(Draw))
	assert.Equal(t, 1, int(HomeWin))
	assert.Equal(t, 2, int(AwayWin))
}

func TestOutcome_TextRoundTrip(t *testing.T) {
	for _, o := range []Outcome{Draw, HomeWin, AwayWin} {
		b, err := o.MarshalText()
		require.NoError(t, err)

		var got Outcome
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, o, got)
	}

	_, err := Outcome(7).MarshalText()
	assert.Error(t, err)

	var o Outcome
	assert.Error(t, o.UnmarshalText([]byte("LOSE")))
}

func TestParseOutcome_ShortForms(t *testing.T) {
	for in, want := range map[string]Outcome{
		"home_win": HomeWin, "H": HomeWin, "1": HomeWin,
		"draw": Draw, "x": Draw, "0": Draw,
		"AWAY": AwayWin, "2": AwayWin,
	} {
		got, err := ParseOutcome(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestOutcomeFromGoals(t *testing.T) {
	assert.Equal(t, HomeWin, OutcomeFromGoals(2, 1))
	assert.Equal(t, AwayWin, OutcomeFromGoals(0, 3))
	assert.Equal(t, Draw, OutcomeFromGoals(1, 1))
}

func TestNew(t *testing.T) {
	kickoff := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	key := Key{FixtureID: "fx-1", ModelVersion: "v1.0"}

	p := New(key, Probabilities{Home: 0.5, Draw: 0.3, Away: 0.2}, &kickoff)

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, key, p.Key())
	assert.Equal(t, HomeWin, p.PredictedOutcome)
	assert.Equal(t, 0.5, p.Confidence)
	assert.Equal(t, 0.3, p.ProbDraw)
	assert.False(t, p.Reconciled())
	assert.Nil(t, p.WasCorrect)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Equal(t, Probabilities{Home: 0.5, Draw: 0.3, Away: 0.2}, p.Probabilities())
}

func TestPrediction_Reconcile(t *testing.T) {
	p := New(Key{FixtureID: "fx-1", ModelVersion: "v1.0"}, Probabilities{Home: 0.6, Draw: 0.3, Away: 0.1}, nil)

	require.True(t, p.Reconcile(HomeWin))
	require.NotNil(t, p.WasCorrect)
	assert.True(t, *p.WasCorrect)
	assert.Equal(t, HomeWin, *p.ActualOutcome)

	assert.False(t, p.Reconcile(HomeWin), "repeat reconcile should be a no-op")

	require.True(t, p.Reconcile(Draw), "corrected result should be applied")
	assert.False(t, *p.WasCorrect)
}

func TestPrediction_CloneIsDeep(t *testing.T) {
	kickoff := time.Now()
	p := New(Key{FixtureID: "fx-1", ModelVersion: "v1.0"}, Probabilities{Home: 0.6, Draw: 0.3, Away: 0.1}, &kickoff)
	p.Reconcile(AwayWin)

	c := p.Clone()
	*c.ActualOutcome = Draw
	*c.WasCorrect = true

	assert.Equal(t, AwayWin, *p.ActualOutcome)
	assert.False(t, *p.WasCorrect)
	assert.Nil(t, (*Prediction)(nil).Clone())
}

func TestPrediction_JSON(t *testing.T) {
	p := New(Key{FixtureID: "fx-9", ModelVersion: "v2"}, Probabilities{Home: 0.2, Draw: 0.2, Away: 0.6}, nil)
	p.Reconcile(AwayWin)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"predicted_outcome":"AWAY_WIN"`)
	assert.Contains(t, string(data), `"was_correct":true`)

	var back Prediction
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p.ID, back.ID)
	assert.Equal(t, AwayWin, back.PredictedOutcome)
	assert.Equal(t, AwayWin, *back.ActualOutcome)
}

func TestNotFound(t *testing.T) {
	err := NotFound(Key{FixtureID: "a", ModelVersion: "v1"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "a@v1")
}

func TestKey_Validate(t *testing.T) {
	assert.NoError(t, Key{FixtureID: "1", ModelVersion: "v1"}.Validate())
	assert.Error(t, Key{ModelVersion: "v1"}.Validate())
	assert.Error(t, Key{FixtureID: "1"}.Validate())
	assert.Error(t, Key{FixtureID: "1", ModelVersion: "v1/beta"}.Validate())
	assert.NoError(t, Key{FixtureID: "1", ModelVersion: "v1-beta"}.Validate())
}

func TestAccuracy_Add(t *testing.T) {
	var acc Accuracy
	probs := Probabilities{Home: 0.6, Draw: 0.3, Away: 0.1}

	right := New(Key{FixtureID: "1", ModelVersion: "v1"}, probs, nil)
	right.Reconcile(HomeWin)
	wrong := New(Key{FixtureID: "2", ModelVersion: "v1"}, probs, nil)
	wrong.Reconcile(Draw)
	pending := New(Key{FixtureID: "3", ModelVersion: "v1"}, probs, nil)

	acc.Add(right)
	acc.Add(wrong)
	acc.Add(pending)

	assert.Equal(t, 3, acc.Total)
	assert.Equal(t, 2, acc.Reconciled)
	assert.Equal(t, 1, acc.Correct)
	assert.Equal(t, 0.5, acc.Ratio)
}
