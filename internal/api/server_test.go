package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"match-predictor/internal/features"
	"match-predictor/internal/ml"
	"match-predictor/internal/pipeline"
	"match-predictor/internal/prediction"
	"match-predictor/internal/provider"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu           sync.Mutex
	predictErr   error
	reconcileErr error
	reconciled   []prediction.Outcome
	versions     []string
	fromProvider int
	listErr      error
	statsErr     error
	days         []int
}

func samplePrediction(fixtureID string) *prediction.Prediction {
	return prediction.New(
		prediction.Key{FixtureID: fixtureID, ModelVersion: "v1.0"},
		prediction.Probabilities{Home: 0.5, Draw: 0.3, Away: 0.2},
		nil,
	)
}

func (f *fakeService) PredictForFixture(_ context.Context, fixtureID string) (*prediction.Prediction, error) {
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	return samplePrediction(fixtureID), nil
}

func (f *fakeService) Reconcile(_ context.Context, fixtureID, modelVersion string, actual prediction.Outcome) (*prediction.Prediction, error) {
	f.mu.Lock()
	f.reconciled = append(f.reconciled, actual)
	f.versions = append(f.versions, modelVersion)
	f.mu.Unlock()
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	p := samplePrediction(fixtureID)
	p.Reconcile(actual)
	return p, nil
}

func (f *fakeService) ReconcileFromProvider(ctx context.Context, fixtureID, modelVersion string) (*prediction.Prediction, error) {
	f.mu.Lock()
	f.fromProvider++
	f.mu.Unlock()
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	p := samplePrediction(fixtureID)
	p.Reconcile(prediction.Draw)
	return p, nil
}

func (f *fakeService) Accuracy(context.Context) (prediction.Accuracy, error) {
	return prediction.Accuracy{ModelVersion: "v1.0", Total: 10, Reconciled: 8, Correct: 5, Ratio: 0.625}, nil
}

func (f *fakeService) UpcomingPredictions(_ context.Context, days int) ([]pipeline.FixturePrediction, error) {
	f.mu.Lock()
	f.days = append(f.days, days)
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []pipeline.FixturePrediction{
		{Fixture: provider.Fixture{ID: "601", HomeTeam: "Arsenal FC", AwayTeam: "Chelsea FC"}, Prediction: samplePrediction("601")},
		{Fixture: provider.Fixture{ID: "602"}, Error: "upstream fixture 602: status 404"},
	}, nil
}

func (f *fakeService) TeamStats(_ context.Context, teamID int64) (pipeline.TeamStats, error) {
	if f.statsErr != nil {
		return pipeline.TeamStats{}, f.statsErr
	}
	return pipeline.TeamStats{
		Snapshot: features.TeamSnapshot{TeamID: teamID, Name: "Arsenal FC", MatchesPlayed: 10, Wins: 6},
		Form:     "WWDLW",
	}, nil
}

func (f *fakeService) ModelInfo() pipeline.ModelInfo {
	return pipeline.ModelInfo{Version: "v1.0", FeatureNames: ml.TrainedFeatureNames}
}

func (f *fakeService) Version() string { return "v1.0" }

type recordingMetrics struct {
	mu       sync.Mutex
	requests []string
}

func (m *recordingMetrics) ObserveRequest(route string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, fmt.Sprintf("%s %d", route, code))
}

func (m *recordingMetrics) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

type fakeGauge struct {
	mu sync.Mutex
	v  float64
}

func (g *fakeGauge) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

func (g *fakeGauge) value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetPrediction(t *testing.T) {
	srv := NewServer(&fakeService{}, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/predictions/419", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "419", got["fixture_id"])
	assert.Equal(t, "HOME_WIN", got["predicted_outcome"])
	assert.InDelta(t, 0.5, got["confidence"], 1e-9)
	assert.NotContains(t, got, "actual_outcome")
}

func TestGetPrediction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream", &provider.UpstreamDataError{Op: "fixture", ID: "1", Err: errors.New("status 503")}, http.StatusBadGateway},
		{"inference", &ml.InferenceError{Op: "run", Err: errors.New("exit status 1")}, http.StatusInternalServerError},
		{"not found", prediction.NotFound(prediction.Key{FixtureID: "1", ModelVersion: "v1.0"}), http.StatusNotFound},
		{"not finished", fmt.Errorf("%w: 1 is TIMED", pipeline.ErrNotFinished), http.StatusConflict},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("bolt: database not open"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakeService{predictErr: tt.err}, nil, Config{})
			rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/predictions/1", "")
			assert.Equal(t, tt.want, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestPostResult(t *testing.T) {
	svc := &fakeService{}
	srv := NewServer(svc, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/predictions/419/result",
		`{"actual_outcome":"AWAY_WIN","model_version":"v0.9"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got prediction.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.ActualOutcome)
	assert.Equal(t, prediction.AwayWin, *got.ActualOutcome)
	assert.False(t, *got.WasCorrect)
	assert.Equal(t, []prediction.Outcome{prediction.AwayWin}, svc.reconciled)
	assert.Equal(t, []string{"v0.9"}, svc.versions)
}

func TestPostResult_FromProvider(t *testing.T) {
	svc := &fakeService{}
	srv := NewServer(svc, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/predictions/419/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.fromProvider)
	assert.Empty(t, svc.reconciled)
}

func TestPostResult_BadInput(t *testing.T) {
	srv := NewServer(&fakeService{}, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/predictions/419/result", `{"actual_outcome":"ABANDONED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/predictions/419/result", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostResult_NotFound(t *testing.T) {
	svc := &fakeService{reconcileErr: prediction.NotFound(prediction.Key{FixtureID: "419", ModelVersion: "v1.0"})}
	srv := NewServer(svc, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/predictions/419/result", `{"actual_outcome":"DRAW"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModelAndAccuracy(t *testing.T) {
	srv := NewServer(&fakeService{}, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/model", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info pipeline.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "v1.0", info.Version)
	assert.Equal(t, ml.TrainedFeatureNames, info.FeatureNames)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/accuracy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var acc prediction.Accuracy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, 8, acc.Reconciled)
	assert.InDelta(t, 0.625, acc.Ratio, 1e-9)
}

func TestHealth(t *testing.T) {
	srv := NewServer(&fakeService{}, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"model_version":"v1.0"`)
}

func TestRateLimit(t *testing.T) {
	srv := NewServer(&fakeService{}, nil, Config{RateLimit: 1})

	first := do(t, srv.Handler(), http.MethodGet, "/health", "")
	second := do(t, srv.Handler(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestRequestMetrics(t *testing.T) {
	m := &recordingMetrics{}
	srv := NewServer(&fakeService{predictErr: errors.New("boom")}, nil, Config{}, WithMetrics(m))

	do(t, srv.Handler(), http.MethodGet, "/api/v1/predictions/7", "")
	do(t, srv.Handler(), http.MethodGet, "/health", "")

	assert.Equal(t, []string{
		"/api/v1/predictions/{fixtureID} 500",
		"/health 200",
	}, m.snapshot())
}

func TestMetricsHandler(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "predictions_computed_total 3")
	})
	srv := NewServer(&fakeService{}, nil, Config{}, WithMetricsHandler(h))

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "predictions_computed_total 3", rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	srv := NewServer(&fakeService{}, nil, Config{})
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/fixtures", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketStream(t *testing.T) {
	gauge := &fakeGauge{}
	hub := NewHub(gauge)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := NewServer(&fakeService{}, hub, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/predictions"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, gauge.value())

	p := samplePrediction("419")
	hub.Notify("created", p)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, "created", evt.Type)
	require.NotNil(t, evt.Prediction)
	assert.Equal(t, "419", evt.Prediction.FixtureID)
	assert.Equal(t, p.ID, evt.Prediction.ID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, gauge.value())
}

func TestHubNotifyDropsWhenFull(t *testing.T) {
	hub := NewHub(nil)
	p := samplePrediction("1")
	for i := 0; i < broadcastQueue+10; i++ {
		hub.Notify("created", p)
	}
	assert.Len(t, hub.broadcast, broadcastQueue)
}

func TestHubRunClosesClientsOnStop(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Zero(t, hub.Clients())
}

func TestUpcomingFixtures(t *testing.T) {
	svc := &fakeService{}
	srv := NewServer(svc, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/fixtures/upcoming", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Days     int `json:"days"`
		Fixtures []struct {
			Fixture    provider.Fixture       `json:"fixture"`
			Prediction *prediction.Prediction `json:"prediction"`
			Error      string                 `json:"error"`
		} `json:"fixtures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, DefaultUpcomingDays, got.Days)
	require.Len(t, got.Fixtures, 2)
	assert.Equal(t, "601", got.Fixtures[0].Fixture.ID)
	require.NotNil(t, got.Fixtures[0].Prediction)
	assert.Equal(t, prediction.HomeWin, got.Fixtures[0].Prediction.PredictedOutcome)
	assert.Nil(t, got.Fixtures[1].Prediction)
	assert.Contains(t, got.Fixtures[1].Error, "404")

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/fixtures/upcoming?days=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{DefaultUpcomingDays, 3}, svc.days)
}

func TestUpcomingFixtures_Errors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		listErr error
		want    int
	}{
		{"days not a number", "?days=week", nil, http.StatusBadRequest},
		{"days zero", "?days=0", nil, http.StatusBadRequest},
		{"days too large", fmt.Sprintf("?days=%d", pipeline.MaxUpcomingDays+1), nil, http.StatusBadRequest},
		{"provider cannot list", "", pipeline.ErrListingUnsupported, http.StatusNotImplemented},
		{"upstream failure", "", &provider.UpstreamDataError{Op: "upcoming fixtures", ID: "PL", Err: errors.New("status 503")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakeService{listErr: tt.listErr}, nil, Config{})
			rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/fixtures/upcoming"+tt.query, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestTeamStats(t *testing.T) {
	srv := NewServer(&fakeService{}, nil, Config{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/teams/57/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got pipeline.TeamStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(57), got.Snapshot.TeamID)
	assert.Equal(t, "Arsenal FC", got.Snapshot.Name)
	assert.Equal(t, "WWDLW", got.Form)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/teams/arsenal/stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	failing := NewServer(&fakeService{statsErr: &provider.UpstreamDataError{Op: "team snapshot", ID: "57", Err: errors.New("status 403")}}, nil, Config{})
	rec = do(t, failing.Handler(), http.MethodGet, "/api/v1/teams/57/stats", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
