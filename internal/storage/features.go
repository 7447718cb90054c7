package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"match-predictor/internal/prediction"

	"go.etcd.io/bbolt"
)

// FeatureRecord is the exact model input behind a prediction. Joined with
// the reconciled result it becomes a labelled training row.
type FeatureRecord struct {
	FixtureID    string    `json:"fixture_id"`
	ModelVersion string    `json:"model_version"`
	Names        []string  `json:"names"`
	Values       []float64 `json:"values"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func (r FeatureRecord) Key() prediction.Key {
	return prediction.Key{FixtureID: r.FixtureID, ModelVersion: r.ModelVersion}
}

// FeatureRecorder is implemented by repositories that can keep feature rows.
type FeatureRecorder interface {
	RecordFeatures(ctx context.Context, rec FeatureRecord) error
	Features(ctx context.Context, key prediction.Key) (FeatureRecord, error)
}

// RecordFeatures stores the feature row for a prediction, replacing any earlier one.
func (s *BoltStore) RecordFeatures(_ context.Context, rec FeatureRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal feature record: %w", err)
		}
		return tx.Bucket([]byte(featuresBucket)).Put(boltKey(rec.Key()), data)
	})
}

func (s *BoltStore) Features(_ context.Context, key prediction.Key) (FeatureRecord, error) {
	var rec FeatureRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(featuresBucket)).Get(boltKey(key))
		if data == nil {
			return prediction.NotFound(key)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// ExportTrainingCSV writes one row per reconciled prediction of modelVersion:
// the feature values followed by the actual result's class index.
// Predictions without a stored feature row are skipped. It returns the
// number of rows written.
func ExportTrainingCSV(ctx context.Context, repo Repository, rec FeatureRecorder, modelVersion string, w io.Writer) (int, error) {
	records, err := repo.List(ctx, modelVersion)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	rows := 0
	headerWritten := false

	for _, p := range records {
		if p.ActualOutcome == nil {
			continue
		}
		fr, err := rec.Features(ctx, p.Key())
		if errors.Is(err, prediction.ErrNotFound) {
			continue
		}
		if err != nil {
			return rows, err
		}

		if !headerWritten {
			header := append([]string{"fixture_id"}, fr.Names...)
			header = append(header, "result")
			if err := cw.Write(header); err != nil {
				return rows, err
			}
			headerWritten = true
		}

		row := make([]string, 0, len(fr.Values)+2)
		row = append(row, p.FixtureID)
		for _, v := range fr.Values {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		row = append(row, strconv.Itoa(int(*p.ActualOutcome)))
		if err := cw.Write(row); err != nil {
			return rows, err
		}
		rows++
	}

	cw.Flush()
	return rows, cw.Error()
}
