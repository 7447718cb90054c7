// Package prediction holds the prediction record, the outcome labels and
// the rule that turns class probabilities into a decision.
package prediction

import (
	"fmt"
	"strings"
)

// Outcome is a match result class. The numeric values are the classifier's
// class indices and are persisted as-is.
type Outcome int

const (
	Draw    Outcome = 0
	HomeWin Outcome = 1
	AwayWin Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case Draw:
		return "DRAW"
	case HomeWin:
		return "HOME_WIN"
	case AwayWin:
		return "AWAY_WIN"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Valid reports whether o is one of the three classes.
func (o Outcome) Valid() bool {
	return o == Draw || o == HomeWin || o == AwayWin
}

// ParseOutcome accepts the canonical names and a few common short forms.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DRAW", "D", "X", "0":
		return Draw, nil
	case "HOME_WIN", "HOME", "H", "1":
		return HomeWin, nil
	case "AWAY_WIN", "AWAY", "A", "2":
		return AwayWin, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// OutcomeFromGoals derives the result from a final score.
func OutcomeFromGoals(home, away int) Outcome {
	switch {
	case home > away:
		return HomeWin
	case away > home:
		return AwayWin
	default:
		return Draw
	}
}
