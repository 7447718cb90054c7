package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"match-predictor/internal/prediction"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect captures the few differences between the supported SQL engines.
type Dialect struct {
	Name       string
	driver     string
	timeType   string
	floatType  string
	positional bool // $1, $2 instead of ?
}

var (
	DialectPostgres = Dialect{Name: "postgres", driver: "postgres", timeType: "TIMESTAMPTZ", floatType: "DOUBLE PRECISION", positional: true}
	DialectSQLite   = Dialect{Name: "sqlite", driver: "sqlite", timeType: "TIMESTAMP", floatType: "REAL"}
)

// rebind rewrites ? placeholders for engines that use positional parameters.
func (d Dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS predictions (
			id                TEXT NOT NULL,
			fixture_id        TEXT NOT NULL,
			model_version     TEXT NOT NULL,
			prob_home_win     %[1]s NOT NULL,
			prob_draw         %[1]s NOT NULL,
			prob_away_win     %[1]s NOT NULL,
			predicted_outcome INTEGER NOT NULL,
			confidence        %[1]s NOT NULL,
			actual_outcome    INTEGER,
			was_correct       BOOLEAN,
			kickoff_at        %[2]s,
			created_at        %[2]s NOT NULL,
			PRIMARY KEY (fixture_id, model_version)
		)`, d.floatType, d.timeType),
		`CREATE INDEX IF NOT EXISTS idx_predictions_version ON predictions (model_version, created_at)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS prediction_features (
			fixture_id     TEXT NOT NULL,
			model_version  TEXT NOT NULL,
			feature_names  TEXT NOT NULL,
			feature_values TEXT NOT NULL,
			recorded_at    %s NOT NULL,
			PRIMARY KEY (fixture_id, model_version)
		)`, d.timeType),
	}
}

// SQLStore keeps predictions in PostgreSQL or SQLite via database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL connects, pings and creates the schema if needed.
func OpenSQL(ctx context.Context, d Dialect, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s: database URL is required", d.Name)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.driver == "sqlite" {
		// one writer at a time; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an existing connection pool. The schema must already exist
// or be created with Migrate.
func NewSQL(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

func (s *SQLStore) Migrate(ctx context.Context) error { return s.migrate(ctx) }

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const selectPrediction = `
	SELECT id, fixture_id, model_version, prob_home_win, prob_draw, prob_away_win,
	       predicted_outcome, confidence, actual_outcome, was_correct, kickoff_at, created_at
	FROM predictions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*prediction.Prediction, error) {
	var (
		p         prediction.Prediction
		id        string
		predicted int64
		actual    sql.NullInt64
		correct   sql.NullBool
		kickoff   sql.NullTime
	)
	err := row.Scan(&id, &p.FixtureID, &p.ModelVersion, &p.ProbHomeWin, &p.ProbDraw, &p.ProbAwayWin,
		&predicted, &p.Confidence, &actual, &correct, &kickoff, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse prediction id: %w", err)
	}
	p.PredictedOutcome = prediction.Outcome(predicted)
	if actual.Valid {
		o := prediction.Outcome(actual.Int64)
		p.ActualOutcome = &o
	}
	if correct.Valid {
		c := correct.Bool
		p.WasCorrect = &c
	}
	if kickoff.Valid {
		k := kickoff.Time.UTC()
		p.KickoffAt = &k
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *SQLStore) Get(ctx context.Context, key prediction.Key) (*prediction.Prediction, error) {
	query := s.dialect.rebind(selectPrediction + ` WHERE fixture_id = ? AND model_version = ?`)
	p, err := scanPrediction(s.db.QueryRowContext(ctx, query, key.FixtureID, key.ModelVersion))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, prediction.NotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction %s: %w", key, err)
	}
	return p, nil
}

func (s *SQLStore) Create(ctx context.Context, p *prediction.Prediction) (*prediction.Prediction, error) {
	query := s.dialect.rebind(`
		INSERT INTO predictions (
			id, fixture_id, model_version, prob_home_win, prob_draw, prob_away_win,
			predicted_outcome, confidence, actual_outcome, was_correct, kickoff_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fixture_id, model_version) DO NOTHING
	`)

	res, err := s.db.ExecContext(ctx, query,
		p.ID.String(), p.FixtureID, p.ModelVersion, p.ProbHomeWin, p.ProbDraw, p.ProbAwayWin,
		int64(p.PredictedOutcome), p.Confidence, nullOutcome(p.ActualOutcome), nullBool(p.WasCorrect),
		nullTime(p.KickoffAt), p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert prediction %s: %w", p.Key(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return s.Get(ctx, p.Key())
	}
	return p, nil
}

func (s *SQLStore) Update(ctx context.Context, p *prediction.Prediction) error {
	query := s.dialect.rebind(`
		UPDATE predictions SET actual_outcome = ?, was_correct = ?
		WHERE fixture_id = ? AND model_version = ?
	`)
	res, err := s.db.ExecContext(ctx, query,
		nullOutcome(p.ActualOutcome), nullBool(p.WasCorrect), p.FixtureID, p.ModelVersion)
	if err != nil {
		return fmt.Errorf("update prediction %s: %w", p.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return prediction.NotFound(p.Key())
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, modelVersion string) ([]*prediction.Prediction, error) {
	query := s.dialect.rebind(selectPrediction + ` WHERE model_version = ? ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []*prediction.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordFeatures(ctx context.Context, rec FeatureRecord) error {
	names, err := json.Marshal(rec.Names)
	if err != nil {
		return err
	}
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return err
	}

	query := s.dialect.rebind(`
		INSERT INTO prediction_features (fixture_id, model_version, feature_names, feature_values, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (fixture_id, model_version) DO UPDATE SET
			feature_names = excluded.feature_names,
			feature_values = excluded.feature_values,
			recorded_at = excluded.recorded_at
	`)
	_, err = s.db.ExecContext(ctx, query, rec.FixtureID, rec.ModelVersion, string(names), string(values), rec.RecordedAt)
	return err
}

func (s *SQLStore) Features(ctx context.Context, key prediction.Key) (FeatureRecord, error) {
	query := s.dialect.rebind(`
		SELECT feature_names, feature_values, recorded_at
		FROM prediction_features WHERE fixture_id = ? AND model_version = ?
	`)

	rec := FeatureRecord{FixtureID: key.FixtureID, ModelVersion: key.ModelVersion}
	var names, values string
	err := s.db.QueryRowContext(ctx, query, key.FixtureID, key.ModelVersion).Scan(&names, &values, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, prediction.NotFound(key)
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(names), &rec.Names); err != nil {
		return rec, fmt.Errorf("decode feature names: %w", err)
	}
	if err := json.Unmarshal([]byte(values), &rec.Values); err != nil {
		return rec, fmt.Errorf("decode feature values: %w", err)
	}
	return rec, nil
}

func nullOutcome(o *prediction.Outcome) sql.NullInt64 {
	if o == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*o), Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
