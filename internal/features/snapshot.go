package features

// Fallbacks used when a provider has no advanced statistics for a team.
const (
	DefaultAvgXG            = 1.0
	DefaultAvgPossession    = 50.0
	DefaultAvgShotsOnTarget = 4.0
)

// TeamSnapshot is an aggregate of a team's season so far.
// The advanced statistics are optional; nil means the provider did not supply them.
type TeamSnapshot struct {
	TeamID           int64    `json:"team_id"`
	Name             string   `json:"name,omitempty"`
	MatchesPlayed    int      `json:"matches_played"`
	Wins             int      `json:"wins"`
	Draws            int      `json:"draws"`
	Losses           int      `json:"losses"`
	GoalsFor         int      `json:"goals_for"`
	GoalsAgainst     int      `json:"goals_against"`
	AvgXG            *float64 `json:"avg_xg,omitempty"`
	AvgPossession    *float64 `json:"avg_possession,omitempty"`
	AvgShotsOnTarget *float64 `json:"avg_shots_on_target,omitempty"`
}

func (s TeamSnapshot) xg() float64 {
	return valueOr(s.AvgXG, DefaultAvgXG)
}

func (s TeamSnapshot) possession() float64 {
	return valueOr(s.AvgPossession, DefaultAvgPossession)
}

func (s TeamSnapshot) shotsOnTarget() float64 {
	return valueOr(s.AvgShotsOnTarget, DefaultAvgShotsOnTarget)
}

// GoalsPerMatch divides by max(matches, 1) so a team with no games yields 0.
func (s TeamSnapshot) GoalsPerMatch() float64 {
	return float64(s.GoalsFor) / float64(matches(s.MatchesPlayed))
}

func (s TeamSnapshot) GoalsAgainstPerMatch() float64 {
	return float64(s.GoalsAgainst) / float64(matches(s.MatchesPlayed))
}

func matches(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Float returns a pointer to v, for filling the optional snapshot fields.
func Float(v float64) *float64 { return &v }
