// Package provider defines what the prediction pipeline needs from an
// external source of fixtures and team data.
package provider

import (
	"context"
	"fmt"
	"time"

	"match-predictor/internal/features"
	"match-predictor/internal/prediction"
)

// Fixture statuses reported by providers.
const (
	StatusScheduled = "SCHEDULED"
	StatusTimed     = "TIMED"
	StatusInPlay    = "IN_PLAY"
	StatusPaused    = "PAUSED"
	StatusFinished  = "FINISHED"
	StatusPostponed = "POSTPONED"
	StatusCancelled = "CANCELLED"
)

// Fixture is a scheduled or played match between two teams.
type Fixture struct {
	ID          string    `json:"id"`
	Competition string    `json:"competition,omitempty"`
	HomeTeamID  int64     `json:"home_team_id"`
	AwayTeamID  int64     `json:"away_team_id"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	Kickoff     time.Time `json:"kickoff"`
	Status      string    `json:"status"`
	HomeGoals   *int      `json:"home_goals,omitempty"`
	AwayGoals   *int      `json:"away_goals,omitempty"`
}

// Finished reports whether the fixture has a final score.
func (f Fixture) Finished() bool {
	return f.Status == StatusFinished && f.HomeGoals != nil && f.AwayGoals != nil
}

// Outcome returns the final result once the fixture is finished.
func (f Fixture) Outcome() (prediction.Outcome, bool) {
	if !f.Finished() {
		return 0, false
	}
	return prediction.OutcomeFromGoals(*f.HomeGoals, *f.AwayGoals), true
}

// Provider supplies fixture and team data.
type Provider interface {
	Fixture(ctx context.Context, fixtureID string) (Fixture, error)
	TeamSnapshot(ctx context.Context, teamID int64) (features.TeamSnapshot, error)
	// RecentForm returns up to n results, most recent first.
	RecentForm(ctx context.Context, teamID int64, n int) (features.Form, error)
}

// FixtureLister is implemented by providers that can list scheduled fixtures.
type FixtureLister interface {
	// UpcomingFixtures returns fixtures kicking off within days days, soonest first.
	UpcomingFixtures(ctx context.Context, days int) ([]Fixture, error)
}

// UpstreamDataError reports that team or fixture data could not be obtained.
type UpstreamDataError struct {
	Op  string
	ID  string
	Err error
}

func (e *UpstreamDataError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *UpstreamDataError) Unwrap() error { return e.Err }
