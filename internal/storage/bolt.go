package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"match-predictor/internal/prediction"

	"go.etcd.io/bbolt"
)

const (
	predictionsBucket = "predictions" // Bucket name for prediction records
	featuresBucket    = "features"    // Bucket name for feature rows used by each prediction
)

// BoltStore keeps predictions in a BoltDB file. Writes are serialized by
// BoltDB itself, so concurrent Create calls for one key cannot both insert.
type BoltStore struct {
	db *bbolt.DB
}

// NewBolt opens (or creates) predictions.db inside dataPath.
func NewBolt(dataPath string) (*BoltStore, error) {
	if dataPath == "" {
		dataPath = "."
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataPath, "predictions.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(featuresBucket)); err != nil {
			return fmt.Errorf("create features bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database. Closing twice is harmless.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// boltKey sorts records of one model version together: "version/fixture".
// Versions never contain '/', so the prefix identifies exactly one version.
func boltKey(k prediction.Key) []byte {
	return []byte(k.ModelVersion + "/" + k.FixtureID)
}

func (s *BoltStore) Get(_ context.Context, key prediction.Key) (*prediction.Prediction, error) {
	var p *prediction.Prediction
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(predictionsBucket)).Get(boltKey(key))
		if data == nil {
			return prediction.NotFound(key)
		}
		p = &prediction.Prediction{}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("unmarshal prediction %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BoltStore) Create(_ context.Context, p *prediction.Prediction) (*prediction.Prediction, error) {
	stored := p
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		key := boltKey(p.Key())

		if existing := b.Get(key); existing != nil {
			stored = &prediction.Prediction{}
			return json.Unmarshal(existing, stored)
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *BoltStore) Update(_ context.Context, p *prediction.Prediction) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		key := boltKey(p.Key())
		if b.Get(key) == nil {
			return prediction.NotFound(p.Key())
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) List(_ context.Context, modelVersion string) ([]*prediction.Prediction, error) {
	var out []*prediction.Prediction
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()
		prefix := []byte(modelVersion + "/")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			p := &prediction.Prediction{}
			if err := json.Unmarshal(v, p); err != nil {
				continue // Skip malformed records
			}
			if p.ModelVersion != modelVersion {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
