// Package features turns team statistics into the fixed-layout numeric
// vector consumed by the outcome classifier.
//
// The layout is part of the model contract: the classifier was trained on
// exactly these 16 columns in exactly this order. Changing it requires
// retraining and a new model version.
package features

// Size is the width of a feature vector.
const Size = 16

// Column indices into a Vector.
const (
	HomeXG = iota
	AwayXG
	XGDiff
	HomePossession
	AwayPossession
	PossessionDiff
	HomeShotsOnTarget
	AwayShotsOnTarget
	HomeGoalsPerMatch
	AwayGoalsPerMatch
	HomeGoalsAgainstPerMatch
	AwayGoalsAgainstPerMatch
	HomeFormPoints
	AwayFormPoints
	FormDiff
	HeadToHeadRatio
)

// Names holds the column names in vector order.
var Names = [Size]string{
	"home_xg",
	"away_xg",
	"xg_diff",
	"home_possession",
	"away_possession",
	"possession_diff",
	"home_shots_on_target",
	"away_shots_on_target",
	"home_goals_per_match",
	"away_goals_per_match",
	"home_goals_against_per_match",
	"away_goals_against_per_match",
	"home_form_points",
	"away_form_points",
	"form_diff",
	"head_to_head_ratio",
}

// Vector is one row of model input.
type Vector [Size]float64

// Float32 converts the vector to the tensor element type used by the model runtime.
func (v Vector) Float32() []float32 {
	out := make([]float32, Size)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Map returns the vector keyed by column name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, Size)
	for i, name := range Names {
		m[name] = v[i]
	}
	return m
}
