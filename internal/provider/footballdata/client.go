// Package footballdata implements provider.Provider against the
// football-data.org v4 REST API.
//
// Requests are rate limited to the account's quota, transport failures and
// 5xx/429 responses are retried with exponential backoff, and a circuit
// breaker stops hammering the API once it is clearly unavailable. The API
// does not publish expected goals, possession or shots on target, so those
// snapshot fields stay empty and the feature builder applies its defaults.
package footballdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"match-predictor/internal/features"
	"match-predictor/internal/provider"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.football-data.org/v4"

	// free tier quota
	DefaultRequestsPerMinute = 10
	DefaultSeasonWindow      = 38
	DefaultLookback          = 400 * 24 * time.Hour
	DefaultCompetition       = "PL"

	dateLayout = "2006-01-02"
)

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        uint64
	MaxRetryTime      time.Duration
	// SeasonWindow is how many finished matches a team snapshot aggregates.
	SeasonWindow int
	// Lookback bounds how far back finished matches are requested.
	Lookback time.Duration
	// Competition is the code upcoming fixtures are listed for.
	Competition string
}

// StatusError is a non-200 response from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("football-data: status %d", e.Code)
	}
	return fmt.Sprintf("football-data: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Client struct {
	rest         *resty.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	maxRetries   uint64
	maxRetryTime time.Duration
	window       int
	lookback     time.Duration
	competition  string
	now          func() time.Time
}

var (
	_ provider.Provider      = (*Client)(nil)
	_ provider.FixtureLister = (*Client)(nil)
)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 30 * time.Second
	}
	if cfg.SeasonWindow <= 0 {
		cfg.SeasonWindow = DefaultSeasonWindow
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Competition == "" {
		cfg.Competition = DefaultCompetition
	}

	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		r.SetHeader("X-Auth-Token", cfg.APIKey)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "football-data",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	perRequest := rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))

	return &Client{
		rest:         r,
		limiter:      rate.NewLimiter(perRequest, 1),
		breaker:      cb,
		maxRetries:   cfg.MaxRetries,
		maxRetryTime: cfg.MaxRetryTime,
		window:       cfg.SeasonWindow,
		lookback:     cfg.Lookback,
		competition:  cfg.Competition,
		now:          time.Now,
	}
}

// get fetches path into result through the breaker, limiter and retry loop.
func (c *Client) get(ctx context.Context, path string, params map[string]string, result interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.retry(ctx, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}

			resp, err := c.rest.R().
				SetContext(ctx).
				SetQueryParams(params).
				SetResult(result).
				Get(path)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}

			if resp.StatusCode() == http.StatusOK {
				return nil
			}
			se := &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 200)}
			if se.retryable() {
				return se
			}
			return backoff.Permanent(se)
		})
	})
	return err
}

func (c *Client) retry(ctx context.Context, op backoff.Operation) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = c.maxRetryTime

	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Debug().Err(err).Dur("wait", wait).Msg("Retrying football-data request")
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Fixture returns the match with the given id.
func (c *Client) Fixture(ctx context.Context, fixtureID string) (provider.Fixture, error) {
	if _, err := strconv.ParseInt(fixtureID, 10, 64); err != nil {
		return provider.Fixture{}, &provider.UpstreamDataError{Op: "fixture", ID: fixtureID, Err: fmt.Errorf("invalid match id: %w", err)}
	}

	var m apiMatch
	if err := c.get(ctx, "/matches/"+fixtureID, nil, &m); err != nil {
		return provider.Fixture{}, &provider.UpstreamDataError{Op: "fixture", ID: fixtureID, Err: err}
	}
	if m.HomeTeam.ID == 0 || m.AwayTeam.ID == 0 {
		return provider.Fixture{}, &provider.UpstreamDataError{Op: "fixture", ID: fixtureID, Err: errors.New("match has no teams assigned")}
	}
	return m.fixture(), nil
}

// TeamSnapshot aggregates the team's most recent finished matches.
func (c *Client) TeamSnapshot(ctx context.Context, teamID int64) (features.TeamSnapshot, error) {
	matches, err := c.finishedMatches(ctx, teamID, c.window)
	if err != nil {
		return features.TeamSnapshot{}, &provider.UpstreamDataError{Op: "team snapshot", ID: strconv.FormatInt(teamID, 10), Err: err}
	}
	return snapshot(teamID, matches), nil
}

// RecentForm returns the team's last n results, most recent first.
func (c *Client) RecentForm(ctx context.Context, teamID int64, n int) (features.Form, error) {
	if n <= 0 {
		return features.Form{}, nil
	}
	matches, err := c.finishedMatches(ctx, teamID, n)
	if err != nil {
		return nil, &provider.UpstreamDataError{Op: "recent form", ID: strconv.FormatInt(teamID, 10), Err: err}
	}

	form := make(features.Form, 0, n)
	for _, m := range matches {
		if r, ok := m.resultFor(teamID); ok {
			form = append(form, r)
		}
		if len(form) == n {
			break
		}
	}
	return form, nil
}

// finishedMatches returns up to limit finished matches, most recent first.
// The API lists matches oldest first and applies limit before ordering, so
// the request is bounded by date and truncated here.
func (c *Client) finishedMatches(ctx context.Context, teamID int64, limit int) ([]apiMatch, error) {
	var resp matchesResponse
	now := c.now().UTC()
	path := "/teams/" + strconv.FormatInt(teamID, 10) + "/matches"
	params := map[string]string{
		"status":   provider.StatusFinished,
		"dateFrom": now.Add(-c.lookback).Format(dateLayout),
		"dateTo":   now.Format(dateLayout),
	}
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	matches := resp.Matches
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].UTCDate.After(matches[j].UTCDate)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// UpcomingFixtures lists the configured competition's scheduled matches
// kicking off within the next days days, soonest first.
func (c *Client) UpcomingFixtures(ctx context.Context, days int) ([]provider.Fixture, error) {
	if days <= 0 {
		return []provider.Fixture{}, nil
	}
	now := c.now().UTC()
	var resp matchesResponse
	params := map[string]string{
		"status":   provider.StatusScheduled + "," + provider.StatusTimed,
		"dateFrom": now.Format(dateLayout),
		"dateTo":   now.AddDate(0, 0, days).Format(dateLayout),
	}
	if err := c.get(ctx, "/competitions/"+c.competition+"/matches", params, &resp); err != nil {
		return nil, &provider.UpstreamDataError{Op: "upcoming fixtures", ID: c.competition, Err: err}
	}

	fixtures := make([]provider.Fixture, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.HomeTeam.ID == 0 || m.AwayTeam.ID == 0 {
			continue
		}
		f := m.fixture()
		if f.Competition == "" {
			f.Competition = c.competition
		}
		fixtures = append(fixtures, f)
	}
	sort.SliceStable(fixtures, func(i, j int) bool {
		return fixtures[i].Kickoff.Before(fixtures[j].Kickoff)
	})
	return fixtures, nil
}

func snapshot(teamID int64, matches []apiMatch) features.TeamSnapshot {
	s := features.TeamSnapshot{TeamID: teamID}
	for _, m := range matches {
		if s.Name == "" {
			if m.HomeTeam.ID == teamID {
				s.Name = m.HomeTeam.Name
			} else if m.AwayTeam.ID == teamID {
				s.Name = m.AwayTeam.Name
			}
		}

		r, ok := m.resultFor(teamID)
		if !ok {
			continue
		}
		gf, ga := m.goalsFor(teamID)
		s.MatchesPlayed++
		s.GoalsFor += gf
		s.GoalsAgainst += ga
		switch r {
		case features.Win:
			s.Wins++
		case features.Draw:
			s.Draws++
		case features.Loss:
			s.Losses++
		}
	}
	return s
}
