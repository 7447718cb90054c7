package footballdata

import (
	"strconv"
	"time"

	"match-predictor/internal/features"
	"match-predictor/internal/provider"
)

type apiTeam struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
}

type apiScoreDetail struct {
	Home *int `json:"home"`
	Away *int `json:"away"`
}

type apiScore struct {
	Winner   string         `json:"winner"`
	FullTime apiScoreDetail `json:"fullTime"`
}

type apiCompetition struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type apiMatch struct {
	ID          int64          `json:"id"`
	UTCDate     time.Time      `json:"utcDate"`
	Status      string         `json:"status"`
	Matchday    int            `json:"matchday"`
	Competition apiCompetition `json:"competition"`
	HomeTeam    apiTeam        `json:"homeTeam"`
	AwayTeam    apiTeam        `json:"awayTeam"`
	Score       apiScore       `json:"score"`
}

type matchesResponse struct {
	Matches []apiMatch `json:"matches"`
}

func (m apiMatch) fixture() provider.Fixture {
	f := provider.Fixture{
		ID:          strconv.FormatInt(m.ID, 10),
		Competition: m.Competition.Code,
		HomeTeamID:  m.HomeTeam.ID,
		AwayTeamID:  m.AwayTeam.ID,
		HomeTeam:    m.HomeTeam.Name,
		AwayTeam:    m.AwayTeam.Name,
		Kickoff:     m.UTCDate.UTC(),
		Status:      m.Status,
	}
	if m.Status == provider.StatusFinished {
		f.HomeGoals = m.Score.FullTime.Home
		f.AwayGoals = m.Score.FullTime.Away
	}
	return f
}

func (m apiMatch) scored() bool {
	return m.Status == provider.StatusFinished && m.Score.FullTime.Home != nil && m.Score.FullTime.Away != nil
}

// goalsFor returns (scored, conceded) from teamID's side.
func (m apiMatch) goalsFor(teamID int64) (int, int) {
	home, away := *m.Score.FullTime.Home, *m.Score.FullTime.Away
	if m.AwayTeam.ID == teamID {
		return away, home
	}
	return home, away
}

func (m apiMatch) resultFor(teamID int64) (features.Result, bool) {
	if !m.scored() || (m.HomeTeam.ID != teamID && m.AwayTeam.ID != teamID) {
		return "", false
	}
	gf, ga := m.goalsFor(teamID)
	switch {
	case gf > ga:
		return features.Win, true
	case gf < ga:
		return features.Loss, true
	default:
		return features.Draw, true
	}
}
