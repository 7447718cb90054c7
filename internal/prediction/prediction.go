package prediction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no prediction exists for a key.
var ErrNotFound = errors.New("prediction not found")

// Key identifies a prediction. A fixture gets at most one prediction per model version.
type Key struct {
	FixtureID    string `json:"fixture_id"`
	ModelVersion string `json:"model_version"`
}

func (k Key) String() string {
	return k.FixtureID + "@" + k.ModelVersion
}

func (k Key) Validate() error {
	if k.FixtureID == "" {
		return errors.New("fixture id is required")
	}
	if k.ModelVersion == "" {
		return errors.New("model version is required")
	}
	if strings.Contains(k.ModelVersion, "/") {
		return fmt.Errorf("model version %q must not contain '/'", k.ModelVersion)
	}
	return nil
}

// NotFound wraps ErrNotFound with the missing key.
func NotFound(k Key) error {
	return fmt.Errorf("%w: %s", ErrNotFound, k)
}

// Prediction is the stored result of running the model on one fixture.
// Only ActualOutcome and WasCorrect change after creation.
type Prediction struct {
	ID               uuid.UUID  `json:"id"`
	FixtureID        string     `json:"fixture_id"`
	ModelVersion     string     `json:"model_version"`
	ProbHomeWin      float64    `json:"prob_home_win"`
	ProbDraw         float64    `json:"prob_draw"`
	ProbAwayWin      float64    `json:"prob_away_win"`
	PredictedOutcome Outcome    `json:"predicted_outcome"`
	Confidence       float64    `json:"confidence"`
	ActualOutcome    *Outcome   `json:"actual_outcome,omitempty"`
	WasCorrect       *bool      `json:"was_correct,omitempty"`
	KickoffAt        *time.Time `json:"kickoff_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// New builds an unreconciled prediction from classifier output.
func New(key Key, probs Probabilities, kickoff *time.Time) *Prediction {
	outcome, confidence := Decide(probs)
	return &Prediction{
		ID:               uuid.New(),
		FixtureID:        key.FixtureID,
		ModelVersion:     key.ModelVersion,
		ProbHomeWin:      probs.Home,
		ProbDraw:         probs.Draw,
		ProbAwayWin:      probs.Away,
		PredictedOutcome: outcome,
		Confidence:       confidence,
		KickoffAt:        kickoff,
		CreatedAt:        time.Now().UTC(),
	}
}

func (p *Prediction) Key() Key {
	return Key{FixtureID: p.FixtureID, ModelVersion: p.ModelVersion}
}

func (p *Prediction) Probabilities() Probabilities {
	return Probabilities{Home: p.ProbHomeWin, Draw: p.ProbDraw, Away: p.ProbAwayWin}
}

// Reconciled reports whether the real result has been recorded.
func (p *Prediction) Reconciled() bool {
	return p.ActualOutcome != nil
}

// Reconcile records the real result. It returns false when the record
// already holds the same result, so callers can skip the write.
func (p *Prediction) Reconcile(actual Outcome) bool {
	if p.ActualOutcome != nil && *p.ActualOutcome == actual && p.WasCorrect != nil {
		return false
	}
	correct := p.PredictedOutcome == actual
	p.ActualOutcome = &actual
	p.WasCorrect = &correct
	return true
}

// Clone returns a deep copy so cached records can be handed out safely.
func (p *Prediction) Clone() *Prediction {
	if p == nil {
		return nil
	}
	c := *p
	if p.ActualOutcome != nil {
		v := *p.ActualOutcome
		c.ActualOutcome = &v
	}
	if p.WasCorrect != nil {
		v := *p.WasCorrect
		c.WasCorrect = &v
	}
	if p.KickoffAt != nil {
		v := *p.KickoffAt
		c.KickoffAt = &v
	}
	return &c
}

// Accuracy summarises reconciled predictions for one model version.
type Accuracy struct {
	ModelVersion string  `json:"model_version"`
	Total        int     `json:"total"`
	Reconciled   int     `json:"reconciled"`
	Correct      int     `json:"correct"`
	Ratio        float64 `json:"accuracy"`
}

// Add folds one prediction into the summary.
func (a *Accuracy) Add(p *Prediction) {
	a.Total++
	if p.WasCorrect == nil {
		return
	}
	a.Reconciled++
	if *p.WasCorrect {
		a.Correct++
	}
	a.Ratio = float64(a.Correct) / float64(a.Reconciled)
}
