// Package storage is the durable tier for predictions: the source of truth
// that outlives the cache. Two engines are provided, BoltDB for single-node
// deployments and SQL (PostgreSQL or SQLite) for shared ones.
//
// Records are keyed by (fixture id, model version). Repositories never delete
// records; only reconciliation fields change after creation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"match-predictor/internal/prediction"
)

// ErrLocked is returned when another process holds the bolt database open.
var ErrLocked = errors.New("database is locked by another process")

// Repository persists prediction records.
type Repository interface {
	// Get returns the record for key, or an error wrapping prediction.ErrNotFound.
	Get(ctx context.Context, key prediction.Key) (*prediction.Prediction, error)

	// Create inserts p unless a record with the same key already exists, in
	// which case the existing record is returned unchanged.
	Create(ctx context.Context, p *prediction.Prediction) (*prediction.Prediction, error)

	// Update overwrites the reconciliation fields of an existing record.
	Update(ctx context.Context, p *prediction.Prediction) error

	// List returns every record for a model version, oldest first.
	List(ctx context.Context, modelVersion string) ([]*prediction.Prediction, error)

	Close() error
}

// Driver names accepted by Open.
const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and configures a storage engine.
type Options struct {
	Driver      string
	DataPath    string // bolt: directory holding the database file
	DatabaseURL string // postgres: connection string; sqlite: file path or DSN
}

// Open returns the repository for opts.Driver.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverBolt:
		return NewBolt(opts.DataPath)
	case DriverPostgres:
		return OpenSQL(ctx, DialectPostgres, opts.DatabaseURL)
	case DriverSQLite:
		return OpenSQL(ctx, DialectSQLite, opts.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
}

// Summarize computes accuracy over every record of a model version.
func Summarize(ctx context.Context, repo Repository, modelVersion string) (prediction.Accuracy, error) {
	acc := prediction.Accuracy{ModelVersion: modelVersion}
	records, err := repo.List(ctx, modelVersion)
	if err != nil {
		return acc, err
	}
	for _, p := range records {
		acc.Add(p)
	}
	return acc, nil
}
