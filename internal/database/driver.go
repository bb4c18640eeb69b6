package database

import (
	"context"
	"errors"
	"fmt"

	"saas-analytics/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported database type")

// Store persists a dataset and reads it back as a consistent snapshot.
type Store interface {
	Connect(ctx context.Context, dsn string) error
	Close() error
	Ping(ctx context.Context) error
	// Reset drops every table or collection the store owns.
	Reset(ctx context.Context) error
	Migrate(ctx context.Context) error
	// Load writes the whole dataset in one transaction, parents first.
	Load(ctx context.Context, ds *model.Dataset) error
	// Snapshot reads every table inside one consistent read and returns an
	// indexed dataset.
	Snapshot(ctx context.Context) (*model.Dataset, error)
}

// Kinds lists the supported backends.
var Kinds = []string{"postgres", "mysql", "mongo"}

func NewStore(kind string) (Store, error) {
	switch kind {
	case "postgres":
		return &PostgresStore{}, nil
	case "mysql":
		return &MySQLStore{}, nil
	case "mongo":
		return &MongoStore{Database: DefaultMongoDatabase}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, kind)
}

// tables in dependency order: parents before children.
var tables = []string{
	"plans",
	"users",
	"subscriptions",
	"projects",
	"tasks",
	"team_memberships",
	"revenue_events",
	"user_activities",
	"funnel_events",
}

type txKey struct{}

// batchSize bounds the rows sent per round trip.
const batchSize = 500

func chunks(n int, fn func(lo, hi int) error) error {
	for lo := 0; lo < n; lo += batchSize {
		hi := lo + batchSize
		if hi > n {
			hi = n
		}
		if err := fn(lo, hi); err != nil {
			return err
		}
	}
	return nil
}
