package prediction

// Probabilities is the classifier output for one fixture.
// Values are taken as produced and never renormalized.
type Probabilities struct {
	Home float64 `json:"home_win"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away_win"`
}

// Of returns the probability assigned to o.
func (p Probabilities) Of(o Outcome) float64 {
	switch o {
	case HomeWin:
		return p.Home
	case AwayWin:
		return p.Away
	default:
		return p.Draw
	}
}

// Sum is used for tolerance checks on model output.
func (p Probabilities) Sum() float64 {
	return p.Home + p.Draw + p.Away
}

// evaluation order; earlier entries win ties
var decisionOrder = [...]Outcome{Draw, HomeWin, AwayWin}

// Decide picks the most probable outcome. Ties go to the outcome that comes
// first in the order DRAW, HOME_WIN, AWAY_WIN. The returned confidence is the
// chosen outcome's probability.
func Decide(p Probabilities) (Outcome, float64) {
	best := decisionOrder[0]
	bestP := p.Of(best)
	for _, o := range decisionOrder[1:] {
		if v := p.Of(o); v > bestP {
			best, bestP = o, v
		}
	}
	return best, bestP
}
